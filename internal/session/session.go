// Package session is the per-user surface the HTTP and websocket layers call. Writes
// are detached from the caller's context: abandoning a call stops the wait, never the
// write. Views hold one fan-out subscription each and must be released.
package session

import (
	"context"
	"time"

	"barter-service/internal/fanout"
	"barter-service/internal/idempotency"
	"barter-service/internal/models"
)

type ProposalService interface {
	Propose(ctx context.Context, itemID, proposerID int, description string, message *string) (models.Proposal, error)
	Accept(ctx context.Context, proposalID, actorID int) (models.Proposal, error)
	Reject(ctx context.Context, proposalID, actorID int) (models.Proposal, error)
	Withdraw(ctx context.Context, proposalID, actorID int) (models.Proposal, error)
	Complete(ctx context.Context, proposalID, actorID int) (models.Proposal, error)
	Get(ctx context.Context, proposalID, actorID int) (models.Proposal, error)
	ListForItem(ctx context.Context, itemID, actorID int) ([]models.Proposal, error)
	ListForUser(ctx context.Context, userID int, direction string) ([]models.ProposalSummary, error)
}

type ItemService interface {
	CreateItem(ctx context.Context, ownerID int, title string) (models.Item, error)
	GetItem(ctx context.Context, itemID int) (models.Item, error)
	RemoveItem(ctx context.Context, itemID, actorID int) (models.Item, error)
}

type ConversationService interface {
	Send(ctx context.Context, senderID, receiverID int, content string, msgType models.MessageType) (models.Message, error)
	Fetch(ctx context.Context, userA, userB int) ([]models.Message, error)
	MarkRead(ctx context.Context, readerID int, messageIDs []int) (map[int]time.Time, error)
	MarkConversationRead(ctx context.Context, readerID, peerID int) (int, error)
	Delete(ctx context.Context, messageID, actorID int) (models.Message, error)
	UnreadCount(ctx context.Context, userID int) (int, error)
	ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error)
}

// Subscriber opens fan-out subscriptions; *fanout.Fanout implements it.
type Subscriber interface {
	SubscribeConversation(ctx context.Context, a, b int, h fanout.Handler) (*fanout.Subscription, error)
	SubscribeItemProposals(ctx context.Context, itemID int, h fanout.Handler) (*fanout.Subscription, error)
}

// Services bundles what a Session needs. It is shared by every session.
type Services struct {
	Proposals     ProposalService
	Items         ItemService
	Conversations ConversationService
	Feed          Subscriber
	// PollInterval is used by views whose subscription could not be opened.
	PollInterval time.Duration
}

// Session is one user's view of the service.
type Session struct {
	userID int
	svc    Services
}

// New binds svc to userID.
func New(userID int, svc Services) *Session {
	if svc.PollInterval <= 0 {
		svc.PollInterval = 5 * time.Second
	}
	return &Session{userID: userID, svc: svc}
}

// UserID returns the acting user.
func (s *Session) UserID() int {
	return s.userID
}

// detach runs op on a context that ignores ctx's cancellation. If ctx ends first the
// caller gets ctx.Err() while op runs to completion in the background and reports its
// outcome through idempotency.Handoff.
func detach[T any](ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	bg := context.WithoutCancel(ctx)
	settle := idempotency.Handoff(ctx)
	go func() {
		v, err := op(bg)
		settle(v, err)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *Session) Propose(ctx context.Context, itemID int, description string, message *string) (models.Proposal, error) {
	return detach(ctx, func(ctx context.Context) (models.Proposal, error) {
		return s.svc.Proposals.Propose(ctx, itemID, s.userID, description, message)
	})
}

func (s *Session) Accept(ctx context.Context, proposalID int) (models.Proposal, error) {
	return detach(ctx, func(ctx context.Context) (models.Proposal, error) {
		return s.svc.Proposals.Accept(ctx, proposalID, s.userID)
	})
}

func (s *Session) Reject(ctx context.Context, proposalID int) (models.Proposal, error) {
	return detach(ctx, func(ctx context.Context) (models.Proposal, error) {
		return s.svc.Proposals.Reject(ctx, proposalID, s.userID)
	})
}

func (s *Session) Withdraw(ctx context.Context, proposalID int) (models.Proposal, error) {
	return detach(ctx, func(ctx context.Context) (models.Proposal, error) {
		return s.svc.Proposals.Withdraw(ctx, proposalID, s.userID)
	})
}

func (s *Session) Complete(ctx context.Context, proposalID int) (models.Proposal, error) {
	return detach(ctx, func(ctx context.Context) (models.Proposal, error) {
		return s.svc.Proposals.Complete(ctx, proposalID, s.userID)
	})
}

func (s *Session) Proposal(ctx context.Context, proposalID int) (models.Proposal, error) {
	return s.svc.Proposals.Get(ctx, proposalID, s.userID)
}

func (s *Session) ItemProposals(ctx context.Context, itemID int) ([]models.Proposal, error) {
	return s.svc.Proposals.ListForItem(ctx, itemID, s.userID)
}

func (s *Session) MyProposals(ctx context.Context, direction string) ([]models.ProposalSummary, error) {
	return s.svc.Proposals.ListForUser(ctx, s.userID, direction)
}

func (s *Session) CreateItem(ctx context.Context, title string) (models.Item, error) {
	return detach(ctx, func(ctx context.Context) (models.Item, error) {
		return s.svc.Items.CreateItem(ctx, s.userID, title)
	})
}

func (s *Session) Item(ctx context.Context, itemID int) (models.Item, error) {
	return s.svc.Items.GetItem(ctx, itemID)
}

func (s *Session) RemoveItem(ctx context.Context, itemID int) (models.Item, error) {
	return detach(ctx, func(ctx context.Context) (models.Item, error) {
		return s.svc.Items.RemoveItem(ctx, itemID, s.userID)
	})
}

func (s *Session) SendMessage(ctx context.Context, peerID int, content string, msgType models.MessageType) (models.Message, error) {
	return detach(ctx, func(ctx context.Context) (models.Message, error) {
		return s.svc.Conversations.Send(ctx, s.userID, peerID, content, msgType)
	})
}

// FetchConversation returns the conversation with peerID and marks what the user
// received as read.
func (s *Session) FetchConversation(ctx context.Context, peerID int) ([]models.Message, error) {
	return s.svc.Conversations.Fetch(ctx, s.userID, peerID)
}

func (s *Session) MarkConversationRead(ctx context.Context, peerID int) (int, error) {
	return detach(ctx, func(ctx context.Context) (int, error) {
		return s.svc.Conversations.MarkConversationRead(ctx, s.userID, peerID)
	})
}

func (s *Session) DeleteMessage(ctx context.Context, messageID int) (models.Message, error) {
	return detach(ctx, func(ctx context.Context) (models.Message, error) {
		return s.svc.Conversations.Delete(ctx, messageID, s.userID)
	})
}

func (s *Session) UnreadCount(ctx context.Context) (int, error) {
	return s.svc.Conversations.UnreadCount(ctx, s.userID)
}

func (s *Session) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	return s.svc.Conversations.ListConversations(ctx, s.userID)
}
