package proposals

import (
	"context"
	"errors"
	"strings"

	"barter-service/internal/apperrors"
	"barter-service/internal/models"
	"barter-service/internal/repositories"
)

// CreateItem lists an item for ownerID.
func (e *Engine) CreateItem(ctx context.Context, ownerID int, title string) (models.Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Item{}, apperrors.InvalidItem("an item needs a title")
	}
	item, err := e.items.CreateItem(ctx, ownerID, title)
	if err != nil {
		return models.Item{}, apperrors.FromStore(err)
	}
	return item, nil
}

// GetItem fetches an item. Removed items are still returned so clients can show why
// they are unavailable.
func (e *Engine) GetItem(ctx context.Context, itemID int) (models.Item, error) {
	item, err := e.items.GetItem(ctx, itemID)
	if errors.Is(err, repositories.ErrItemNotFound) {
		return models.Item{}, apperrors.NotFound("item", err)
	}
	if err != nil {
		return models.Item{}, apperrors.FromStore(err)
	}
	return item, nil
}

// RemoveItem logically removes an item and cancels its pending proposals. Removing an
// already removed item is a no-op; a bartered item cannot be removed.
func (e *Engine) RemoveItem(ctx context.Context, itemID, actorID int) (models.Item, error) {
	item, err := e.GetItem(ctx, itemID)
	if err != nil {
		return models.Item{}, err
	}
	if item.OwnerID != actorID {
		return models.Item{}, apperrors.Unauthorized("only the owner can remove an item")
	}
	switch item.Status {
	case models.ItemRemoved:
		return item, nil
	case models.ItemBartered:
		return models.Item{}, apperrors.ItemUnavailable("a bartered item cannot be removed")
	}

	removed, err := e.items.UpdateItemStatus(ctx, itemID, []models.ItemStatus{item.Status}, models.ItemRemoved)
	if errors.Is(err, repositories.ErrStaleState) {
		return models.Item{}, apperrors.AlreadyResolved("the item changed while it was being removed, try again")
	}
	if err != nil {
		return models.Item{}, apperrors.FromStore(err)
	}

	bg := context.WithoutCancel(ctx)
	// keepID 0 matches no proposal
	if err := e.retry(bg, func() error {
		cancelled, err := e.proposals.CancelPendingSiblings(bg, itemID, 0)
		for _, p := range cancelled {
			e.publish(bg, "proposal.cancelled", p, actorID)
		}
		return err
	}); err != nil {
		e.reconcileNeeded(bg, models.Proposal{ItemID: itemID}, "cancel_on_remove", err)
	}
	return removed, nil
}
