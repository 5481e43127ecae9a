package handlers

import (
	"context"

	"barter-service/internal/models"
)

// SessionAPI is the per-user surface the handlers call; *session.Session implements it.
type SessionAPI interface {
	Propose(ctx context.Context, itemID int, description string, message *string) (models.Proposal, error)
	Accept(ctx context.Context, proposalID int) (models.Proposal, error)
	Reject(ctx context.Context, proposalID int) (models.Proposal, error)
	Withdraw(ctx context.Context, proposalID int) (models.Proposal, error)
	Complete(ctx context.Context, proposalID int) (models.Proposal, error)
	Proposal(ctx context.Context, proposalID int) (models.Proposal, error)
	ItemProposals(ctx context.Context, itemID int) ([]models.Proposal, error)
	MyProposals(ctx context.Context, direction string) ([]models.ProposalSummary, error)

	CreateItem(ctx context.Context, title string) (models.Item, error)
	Item(ctx context.Context, itemID int) (models.Item, error)
	RemoveItem(ctx context.Context, itemID int) (models.Item, error)

	SendMessage(ctx context.Context, peerID int, content string, msgType models.MessageType) (models.Message, error)
	FetchConversation(ctx context.Context, peerID int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, peerID int) (int, error)
	DeleteMessage(ctx context.Context, messageID int) (models.Message, error)
	UnreadCount(ctx context.Context) (int, error)
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
}

// SessionFactory binds a SessionAPI to the authenticated user.
type SessionFactory func(userID int) SessionAPI
