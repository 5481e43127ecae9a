package models

import "time"

// ItemStatus is advisory; the proposal engine moves it on acceptance and completion.
type ItemStatus string

const (
	ItemActive   ItemStatus = "active"
	ItemProposed ItemStatus = "proposed"
	ItemBartered ItemStatus = "bartered"
	ItemRemoved  ItemStatus = "removed"
)

// Item is a listed good or service that proposals are made against.
type Item struct {
	ID        int        `db:"id" json:"id"`
	OwnerID   int        `db:"owner_id" json:"owner_id"`
	Title     string     `db:"title" json:"title"`
	Status    ItemStatus `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Available reports whether the item can still receive proposals.
func (i Item) Available() bool {
	return i.Status != ItemRemoved && i.Status != ItemBartered
}
