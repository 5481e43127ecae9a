package models

import "time"

// ProposalStatus is a state of the trade proposal state machine.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalCancelled ProposalStatus = "cancelled"
	ProposalCompleted ProposalStatus = "completed"
)

var proposalTransitions = map[ProposalStatus][]ProposalStatus{
	ProposalPending:  {ProposalAccepted, ProposalRejected, ProposalCancelled},
	ProposalAccepted: {ProposalCompleted},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func (s ProposalStatus) CanTransition(to ProposalStatus) bool {
	for _, next := range proposalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ProposalStatus) Terminal() bool {
	return len(proposalTransitions[s]) == 0
}

// Resolved reports whether the proposal holds the item (accepted or completed).
func (s ProposalStatus) Resolved() bool {
	return s == ProposalAccepted || s == ProposalCompleted
}

// Proposal is an offer by a non-owner to trade against an item.
type Proposal struct {
	ID          int            `db:"id" json:"id"`
	ItemID      int            `db:"item_id" json:"item_id"`
	ProposerID  int            `db:"proposer_id" json:"proposer_id"`
	Description string         `db:"proposed_item_description" json:"proposed_item_description"`
	Message     *string        `db:"message" json:"message,omitempty"`
	Status      ProposalStatus `db:"status" json:"status"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// ProposalSummary is a proposal seen from one user: sent by them or received on their item.
type ProposalSummary struct {
	Proposal
	ItemOwnerID int    `db:"item_owner_id" json:"item_owner_id"`
	ItemTitle   string `db:"item_title" json:"item_title"`
	Direction   string `db:"direction" json:"type"`
}

// ProposalEvent is published to the message broker on every transition.
type ProposalEvent struct {
	Type       string    `json:"type"`
	Proposal   Proposal  `json:"proposal"`
	ActorID    int       `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
