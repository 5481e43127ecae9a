package repositories

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrItemNotFound     = errors.New("item not found")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrMessageNotFound  = errors.New("message not found")

	// ErrStaleState is returned by conditional updates whose expected prior state no
	// longer matches the row.
	ErrStaleState = errors.New("row changed concurrently")

	ErrDuplicatePending    = errors.New("pending proposal already exists for item and proposer")
	ErrItemAlreadyAccepted = errors.New("item already has an accepted proposal")
)

const (
	uniqueViolation = "23505"

	onePendingIndex  = "proposals_one_pending_per_proposer"
	oneAcceptedIndex = "proposals_one_accepted_per_item"
)

// mapConstraint turns violations of the proposal partial unique indexes into sentinels.
func mapConstraint(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case onePendingIndex:
		return ErrDuplicatePending
	case oneAcceptedIndex:
		return ErrItemAlreadyAccepted
	}
	return err
}
