package changefeed

import (
	"context"
	"errors"

	"barter-service/internal/models"
)

// Table names a record type that emits change events.
type Table string

const (
	TableProposals Table = "proposals"
	TableMessages  Table = "messages"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
)

// Event is one row change. Exactly one of Proposal or Message is set, matching Table.
// A Gap event carries no row: the feed may have lost events and the consumer must
// reconcile from the store.
type Event struct {
	Table    Table
	Op       Op
	Proposal *models.Proposal
	Message  *models.Message
	Gap      bool
}

// RowID returns the id of the changed row, or 0 for gap events.
func (e Event) RowID() int {
	switch {
	case e.Proposal != nil:
		return e.Proposal.ID
	case e.Message != nil:
		return e.Message.ID
	}
	return 0
}

// Filter selects the events a subscriber is interested in. Gap events bypass filters.
type Filter func(Event) bool

var ErrClosed = errors.New("change feed closed")

// Feed is the subscription side of the change feed.
type Feed interface {
	Subscribe(ctx context.Context, table Table, filter Filter) (*Stream, error)
}

// Publisher is the producing side, used by stores that emit their own events.
type Publisher interface {
	Publish(ev Event)
}
