package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"barter-service/internal/models"
)

// SessionMock implements handlers.SessionAPI.
type SessionMock struct {
	mock.Mock
}

func (m *SessionMock) Propose(ctx context.Context, itemID int, description string, message *string) (models.Proposal, error) {
	args := m.Called(ctx, itemID, description, message)
	var out models.Proposal
	if val := args.Get(0); val != nil {
		out = val.(models.Proposal)
	}
	return out, args.Error(1)
}

func (m *SessionMock) Accept(ctx context.Context, proposalID int) (models.Proposal, error) {
	args := m.Called(ctx, proposalID)
	var out models.Proposal
	if val := args.Get(0); val != nil {
		out = val.(models.Proposal)
	}
	return out, args.Error(1)
}

func (m *SessionMock) Reject(ctx context.Context, proposalID int) (models.Proposal, error) {
	args := m.Called(ctx, proposalID)
	var out models.Proposal
	if val := args.Get(0); val != nil {
		out = val.(models.Proposal)
	}
	return out, args.Error(1)
}

func (m *SessionMock) Withdraw(ctx context.Context, proposalID int) (models.Proposal, error) {
	args := m.Called(ctx, proposalID)
	var out models.Proposal
	if val := args.Get(0); val != nil {
		out = val.(models.Proposal)
	}
	return out, args.Error(1)
}

func (m *SessionMock) Complete(ctx context.Context, proposalID int) (models.Proposal, error) {
	args := m.Called(ctx, proposalID)
	var out models.Proposal
	if val := args.Get(0); val != nil {
		out = val.(models.Proposal)
	}
	return out, args.Error(1)
}

func (m *SessionMock) Proposal(ctx context.Context, proposalID int) (models.Proposal, error) {
	args := m.Called(ctx, proposalID)
	var out models.Proposal
	if val := args.Get(0); val != nil {
		out = val.(models.Proposal)
	}
	return out, args.Error(1)
}

func (m *SessionMock) ItemProposals(ctx context.Context, itemID int) ([]models.Proposal, error) {
	args := m.Called(ctx, itemID)
	var out []models.Proposal
	if val := args.Get(0); val != nil {
		out = val.([]models.Proposal)
	}
	return out, args.Error(1)
}

func (m *SessionMock) MyProposals(ctx context.Context, direction string) ([]models.ProposalSummary, error) {
	args := m.Called(ctx, direction)
	var out []models.ProposalSummary
	if val := args.Get(0); val != nil {
		out = val.([]models.ProposalSummary)
	}
	return out, args.Error(1)
}

func (m *SessionMock) CreateItem(ctx context.Context, title string) (models.Item, error) {
	args := m.Called(ctx, title)
	var out models.Item
	if val := args.Get(0); val != nil {
		out = val.(models.Item)
	}
	return out, args.Error(1)
}

func (m *SessionMock) Item(ctx context.Context, itemID int) (models.Item, error) {
	args := m.Called(ctx, itemID)
	var out models.Item
	if val := args.Get(0); val != nil {
		out = val.(models.Item)
	}
	return out, args.Error(1)
}

func (m *SessionMock) RemoveItem(ctx context.Context, itemID int) (models.Item, error) {
	args := m.Called(ctx, itemID)
	var out models.Item
	if val := args.Get(0); val != nil {
		out = val.(models.Item)
	}
	return out, args.Error(1)
}

func (m *SessionMock) SendMessage(ctx context.Context, peerID int, content string, msgType models.MessageType) (models.Message, error) {
	args := m.Called(ctx, peerID, content, msgType)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *SessionMock) FetchConversation(ctx context.Context, peerID int) ([]models.Message, error) {
	args := m.Called(ctx, peerID)
	var out []models.Message
	if val := args.Get(0); val != nil {
		out = val.([]models.Message)
	}
	return out, args.Error(1)
}

func (m *SessionMock) MarkConversationRead(ctx context.Context, peerID int) (int, error) {
	args := m.Called(ctx, peerID)
	return args.Int(0), args.Error(1)
}

func (m *SessionMock) DeleteMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *SessionMock) UnreadCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *SessionMock) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	args := m.Called(ctx)
	var out []models.ConversationSummary
	if val := args.Get(0); val != nil {
		out = val.([]models.ConversationSummary)
	}
	return out, args.Error(1)
}
