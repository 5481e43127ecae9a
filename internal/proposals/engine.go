// Package proposals owns the trade proposal state machine and the rule that an item
// has at most one accepted proposal.
package proposals

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"barter-service/internal/apperrors"
	"barter-service/internal/logger"
	"barter-service/internal/models"
	"barter-service/internal/observability"
	"barter-service/internal/repositories"
)

const (
	maxDescriptionLength = 2000
	maxMessageLength     = 2000
)

// Engine applies proposal transitions as conditional updates against the store.
type Engine struct {
	items     repositories.ItemRepository
	proposals repositories.ProposalRepository

	attempts   int
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCascadeAttempts bounds how often each settlement write is tried after an accept.
func WithCascadeAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// WithBackOff replaces the retry schedule used for settlement writes.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(e *Engine) {
		e.newBackOff = f
	}
}

// NewEngine constructs an Engine.
func NewEngine(items repositories.ItemRepository, proposals repositories.ProposalRepository, opts ...Option) *Engine {
	e := &Engine{
		items:     items,
		proposals: proposals,
		attempts:  3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Propose creates a pending proposal by proposerID on itemID.
func (e *Engine) Propose(ctx context.Context, itemID, proposerID int, description string, message *string) (models.Proposal, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return models.Proposal{}, apperrors.InvalidProposal("describe what you are offering")
	}
	if len(description) > maxDescriptionLength {
		return models.Proposal{}, apperrors.InvalidProposal("offer description is too long")
	}
	if message != nil {
		trimmed := strings.TrimSpace(*message)
		if len(trimmed) > maxMessageLength {
			return models.Proposal{}, apperrors.InvalidProposal("message is too long")
		}
		if trimmed == "" {
			message = nil
		} else {
			message = &trimmed
		}
	}

	item, err := e.items.GetItem(ctx, itemID)
	if errors.Is(err, repositories.ErrItemNotFound) {
		return models.Proposal{}, apperrors.ItemUnavailable("this item no longer exists")
	}
	if err != nil {
		return models.Proposal{}, apperrors.FromStore(err)
	}
	if item.OwnerID == proposerID {
		return models.Proposal{}, apperrors.InvalidProposal("you cannot propose a trade on your own item")
	}
	if item.Status != models.ItemActive {
		return models.Proposal{}, apperrors.ItemUnavailable("this item is no longer accepting proposals")
	}

	pending, err := e.proposals.HasPendingProposal(ctx, itemID, proposerID)
	if err != nil {
		return models.Proposal{}, apperrors.FromStore(err)
	}
	if pending {
		return models.Proposal{}, apperrors.DuplicateProposal()
	}

	p, err := e.proposals.CreateProposal(ctx, itemID, proposerID, description, message)
	switch {
	case errors.Is(err, repositories.ErrDuplicatePending):
		// lost a race with a concurrent propose from the same user
		return models.Proposal{}, apperrors.DuplicateProposal()
	case errors.Is(err, repositories.ErrItemNotFound):
		return models.Proposal{}, apperrors.ItemUnavailable("this item no longer exists")
	case err != nil:
		return models.Proposal{}, apperrors.FromStore(err)
	}

	observability.IncProposalTransition(string(models.ProposalPending), "ok")
	e.publish(ctx, "proposal.created", p, proposerID)
	return p, nil
}

// Accept moves a pending proposal to accepted, then cancels its pending siblings and
// marks the item as proposed. Only the conditional update on the proposal decides the
// outcome; settlement failures are retried and otherwise left to Reconcile.
func (e *Engine) Accept(ctx context.Context, proposalID, actorID int) (models.Proposal, error) {
	p, item, err := e.load(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	if item.OwnerID != actorID {
		return models.Proposal{}, apperrors.Unauthorized("only the item owner can accept a proposal")
	}
	if p.Status != models.ProposalPending {
		return models.Proposal{}, alreadyResolved(p.Status)
	}
	if item.Status == models.ItemRemoved || item.Status == models.ItemBartered {
		return models.Proposal{}, apperrors.ItemUnavailable("this item is no longer available")
	}

	accepted, err := e.transition(ctx, p, models.ProposalAccepted)
	if err != nil {
		return models.Proposal{}, err
	}
	e.publish(ctx, "proposal.accepted", accepted, actorID)

	// the caller going away must not stop the cascade
	e.settle(context.WithoutCancel(ctx), accepted)
	return accepted, nil
}

// Reject moves a pending proposal to rejected. Only the item owner may reject.
func (e *Engine) Reject(ctx context.Context, proposalID, actorID int) (models.Proposal, error) {
	p, item, err := e.load(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	if item.OwnerID != actorID {
		return models.Proposal{}, apperrors.Unauthorized("only the item owner can reject a proposal")
	}
	if p.Status != models.ProposalPending {
		return models.Proposal{}, alreadyResolved(p.Status)
	}

	rejected, err := e.transition(ctx, p, models.ProposalRejected)
	if err != nil {
		return models.Proposal{}, err
	}
	e.publish(ctx, "proposal.rejected", rejected, actorID)
	return rejected, nil
}

// Withdraw lets the proposer cancel their own pending proposal.
func (e *Engine) Withdraw(ctx context.Context, proposalID, actorID int) (models.Proposal, error) {
	p, err := e.get(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	if p.ProposerID != actorID {
		return models.Proposal{}, apperrors.Unauthorized("only the proposer can withdraw a proposal")
	}
	if p.Status != models.ProposalPending {
		return models.Proposal{}, alreadyResolved(p.Status)
	}

	cancelled, err := e.transition(ctx, p, models.ProposalCancelled)
	if err != nil {
		return models.Proposal{}, err
	}
	e.publish(ctx, "proposal.cancelled", cancelled, actorID)
	return cancelled, nil
}

// Complete records that the barter took place. Either party may call it and calling it
// on an already completed proposal returns the proposal unchanged.
func (e *Engine) Complete(ctx context.Context, proposalID, actorID int) (models.Proposal, error) {
	p, item, err := e.load(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	if actorID != p.ProposerID && actorID != item.OwnerID {
		return models.Proposal{}, apperrors.Unauthorized("only the trading parties can complete a barter")
	}
	switch p.Status {
	case models.ProposalCompleted:
		return p, nil
	case models.ProposalAccepted:
	default:
		return models.Proposal{}, apperrors.AlreadyResolved("only an accepted proposal can be completed")
	}

	completed, err := e.transition(ctx, p, models.ProposalCompleted)
	if apperrors.Is(err, apperrors.CodeAlreadyResolved) {
		// the other party may have completed it between our read and write
		current, getErr := e.get(ctx, proposalID)
		if getErr == nil && current.Status == models.ProposalCompleted {
			return current, nil
		}
		return models.Proposal{}, err
	}
	if err != nil {
		return models.Proposal{}, err
	}
	e.publish(ctx, "proposal.completed", completed, actorID)

	e.settle(context.WithoutCancel(ctx), completed)
	return completed, nil
}

// Get returns a proposal visible to the actor: its proposer or the item owner.
func (e *Engine) Get(ctx context.Context, proposalID, actorID int) (models.Proposal, error) {
	p, item, err := e.load(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	if actorID != p.ProposerID && actorID != item.OwnerID {
		return models.Proposal{}, apperrors.NotFound("proposal", nil)
	}
	return p, nil
}

// ListForItem returns the proposals on an item. The owner sees every proposal, anyone
// else only their own.
func (e *Engine) ListForItem(ctx context.Context, itemID, actorID int) ([]models.Proposal, error) {
	item, err := e.items.GetItem(ctx, itemID)
	if errors.Is(err, repositories.ErrItemNotFound) {
		return nil, apperrors.NotFound("item", err)
	}
	if err != nil {
		return nil, apperrors.FromStore(err)
	}

	all, err := e.proposals.ListProposalsForItem(ctx, itemID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	if item.OwnerID == actorID {
		return all, nil
	}
	own := make([]models.Proposal, 0)
	for _, p := range all {
		if p.ProposerID == actorID {
			own = append(own, p)
		}
	}
	return own, nil
}

// ListForUser returns proposals sent by the user or received on their items. direction
// filters on models.DirectionSent or models.DirectionReceived; empty returns both.
func (e *Engine) ListForUser(ctx context.Context, userID int, direction string) ([]models.ProposalSummary, error) {
	all, err := e.proposals.ListProposalsForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	if direction == "" {
		return all, nil
	}
	filtered := make([]models.ProposalSummary, 0, len(all))
	for _, s := range all {
		if s.Direction == direction {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// Reconcile settles accepted or completed proposals whose cascade did not finish and
// returns how many it repaired.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	unsettled, err := e.proposals.ListUnsettled(ctx)
	if err != nil {
		return 0, apperrors.FromStore(err)
	}
	repaired := 0
	for _, p := range unsettled {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if e.settle(ctx, p) {
			repaired++
		}
	}
	if len(unsettled) > 0 {
		logger.Info("reconcile: settled %d of %d proposals", repaired, len(unsettled))
	}
	return repaired, nil
}

func (e *Engine) get(ctx context.Context, proposalID int) (models.Proposal, error) {
	p, err := e.proposals.GetProposal(ctx, proposalID)
	if errors.Is(err, repositories.ErrProposalNotFound) {
		return models.Proposal{}, apperrors.NotFound("proposal", err)
	}
	if err != nil {
		return models.Proposal{}, apperrors.FromStore(err)
	}
	return p, nil
}

func (e *Engine) load(ctx context.Context, proposalID int) (models.Proposal, models.Item, error) {
	p, err := e.get(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, models.Item{}, err
	}
	item, err := e.items.GetItem(ctx, p.ItemID)
	if errors.Is(err, repositories.ErrItemNotFound) {
		return models.Proposal{}, models.Item{}, apperrors.ItemUnavailable("this item no longer exists")
	}
	if err != nil {
		return models.Proposal{}, models.Item{}, apperrors.FromStore(err)
	}
	return p, item, nil
}

// transition performs the conditional update from p.Status to `to`.
func (e *Engine) transition(ctx context.Context, p models.Proposal, to models.ProposalStatus) (models.Proposal, error) {
	updated, err := e.proposals.TransitionProposal(ctx, p.ID, p.Status, to)
	switch {
	case err == nil:
		observability.IncProposalTransition(string(to), "ok")
		return updated, nil
	case errors.Is(err, repositories.ErrStaleState):
		observability.IncProposalTransition(string(to), "stale")
		return models.Proposal{}, apperrors.AlreadyResolved("this proposal was already resolved")
	case errors.Is(err, repositories.ErrItemAlreadyAccepted):
		observability.IncProposalTransition(string(to), "conflict")
		return models.Proposal{}, apperrors.AlreadyResolved("another proposal on this item was already accepted")
	case errors.Is(err, repositories.ErrProposalNotFound):
		return models.Proposal{}, apperrors.NotFound("proposal", err)
	default:
		observability.IncProposalTransition(string(to), "error")
		return models.Proposal{}, apperrors.FromStore(err)
	}
}

func alreadyResolved(status models.ProposalStatus) error {
	return apperrors.AlreadyResolved("this proposal is already " + string(status))
}

func (e *Engine) publish(ctx context.Context, routingKey string, p models.Proposal, actorID int) {
	event := models.ProposalEvent{
		Type:       routingKey,
		Proposal:   p,
		ActorID:    actorID,
		OccurredAt: e.now().UTC(),
	}
	if err := observability.PublishEvent(ctx, routingKey, event, observability.HeadersFromContext(ctx)); err != nil {
		logger.Warn("publish %s for proposal %d failed: %v", routingKey, p.ID, err)
	}
}
