package proposals

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"barter-service/internal/apperrors"
	"barter-service/internal/logger"
	"barter-service/internal/models"
	"barter-service/internal/observability"
	"barter-service/internal/repositories"
)

// settle brings the item and its sibling proposals in line with a resolved proposal:
// pending siblings are cancelled and the item status follows the proposal. It reports
// whether both writes succeeded.
func (e *Engine) settle(ctx context.Context, p models.Proposal) bool {
	ok := true

	err := e.retry(ctx, func() error {
		cancelled, err := e.proposals.CancelPendingSiblings(ctx, p.ItemID, p.ID)
		if err != nil {
			return err
		}
		for _, s := range cancelled {
			observability.IncProposalTransition(string(models.ProposalCancelled), "cascade")
			e.publish(ctx, "proposal.cancelled", s, 0)
		}
		return nil
	})
	if err != nil {
		ok = false
		e.reconcileNeeded(ctx, p, "cancel_siblings", err)
	}

	from, to := []models.ItemStatus{models.ItemActive}, models.ItemProposed
	if p.Status == models.ProposalCompleted {
		from, to = []models.ItemStatus{models.ItemActive, models.ItemProposed}, models.ItemBartered
	}
	err = e.retry(ctx, func() error {
		_, err := e.items.UpdateItemStatus(ctx, p.ItemID, from, to)
		if errors.Is(err, repositories.ErrStaleState) {
			// already moved on, or removed by the owner
			return nil
		}
		return err
	})
	if err != nil {
		ok = false
		e.reconcileNeeded(ctx, p, "item_status", err)
	}

	if ok {
		observability.IncCascade("ok")
	}
	return ok
}

// retry runs op up to e.attempts times. Errors that are not transient stop it at once.
func (e *Engine) retry(ctx context.Context, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("settlement write failed (attempt %d/%d): %v", attempt, e.attempts, err)
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.attempts-1)), ctx)
	return backoff.Retry(wrapped, b)
}

type reconcileEvent struct {
	ProposalID int    `json:"proposal_id"`
	ItemID     int    `json:"item_id"`
	Step       string `json:"step"`
	Error      string `json:"error"`
}

func (e *Engine) reconcileNeeded(ctx context.Context, p models.Proposal, step string, err error) {
	observability.IncCascade("failed")
	logger.Error("settlement of proposal %d (item %d) failed at %s, left for reconcile: %v", p.ID, p.ItemID, step, err)
	event := reconcileEvent{ProposalID: p.ID, ItemID: p.ItemID, Step: step, Error: err.Error()}
	if pubErr := observability.PublishEvent(ctx, "proposal.reconcile_needed", event, observability.HeadersFromContext(ctx)); pubErr != nil {
		logger.Warn("publish reconcile_needed for proposal %d failed: %v", p.ID, pubErr)
	}
}
