package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"barter-service/internal/models"
)

// ItemRepository abstracts item persistence.
type ItemRepository interface {
	CreateItem(ctx context.Context, ownerID int, title string) (models.Item, error)
	GetItem(ctx context.Context, itemID int) (models.Item, error)
	UpdateItemStatus(ctx context.Context, itemID int, from []models.ItemStatus, to models.ItemStatus) (models.Item, error)
}

// ItemRepo is a sqlx implementation of ItemRepository.
type ItemRepo struct {
	db *sqlx.DB
}

// NewItemRepo constructs an ItemRepo.
func NewItemRepo(db *sqlx.DB) *ItemRepo {
	return &ItemRepo{db: db}
}

const itemColumns = `id, owner_id, title, status, created_at, updated_at`

// CreateItem lists a new active item.
func (r *ItemRepo) CreateItem(ctx context.Context, ownerID int, title string) (models.Item, error) {
	var item models.Item
	err := r.db.GetContext(ctx, &item, `INSERT INTO items (owner_id, title) VALUES ($1, $2) RETURNING `+itemColumns, ownerID, title)
	return item, err
}

// GetItem fetches an item by id, including removed items.
func (r *ItemRepo) GetItem(ctx context.Context, itemID int) (models.Item, error) {
	var item models.Item
	err := r.db.GetContext(ctx, &item, `SELECT `+itemColumns+` FROM items WHERE id=$1`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, ErrItemNotFound
	}
	return item, err
}

// UpdateItemStatus moves the item to `to` only while its status is one of `from`.
func (r *ItemRepo) UpdateItemStatus(ctx context.Context, itemID int, from []models.ItemStatus, to models.ItemStatus) (models.Item, error) {
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	var item models.Item
	err := r.db.GetContext(ctx, &item, `UPDATE items SET status=$2, updated_at=NOW()
        WHERE id=$1 AND status = ANY($3)
        RETURNING `+itemColumns, itemID, to, pq.Array(expected))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetItem(ctx, itemID); getErr != nil {
			return models.Item{}, getErr
		}
		return models.Item{}, ErrStaleState
	}
	return item, err
}
