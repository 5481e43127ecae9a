// Package conversations implements direct messages between two users: ordering,
// read state, soft deletion and unread accounting.
package conversations

import (
	"context"
	"errors"
	"html"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"barter-service/internal/apperrors"
	"barter-service/internal/logger"
	"barter-service/internal/models"
	"barter-service/internal/observability"
	"barter-service/internal/repositories"
)

const maxContentLength = 4000

// Service owns the visibility and read-state rules for messages.
type Service struct {
	messages  repositories.MessageRepository
	users     repositories.UserRepository
	sanitizer *bluemonday.Policy
}

// NewService constructs a Service.
func NewService(messages repositories.MessageRepository, users repositories.UserRepository) *Service {
	return &Service{
		messages:  messages,
		users:     users,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Send stores an unread message from senderID to receiverID.
func (s *Service) Send(ctx context.Context, senderID, receiverID int, content string, msgType models.MessageType) (models.Message, error) {
	if senderID == receiverID {
		return models.Message{}, apperrors.InvalidMessage("you cannot message yourself")
	}
	if msgType == "" {
		msgType = models.MessageText
	}
	if !msgType.Valid() {
		return models.Message{}, apperrors.InvalidMessage("unsupported message type")
	}

	content, err := s.normalize(content, msgType)
	if err != nil {
		return models.Message{}, err
	}

	ok, err := s.users.UsersExist(ctx, senderID, receiverID)
	if err != nil {
		return models.Message{}, apperrors.FromStore(err)
	}
	if !ok {
		return models.Message{}, apperrors.NotFound("user", nil)
	}

	msg, err := s.messages.CreateMessage(ctx, senderID, receiverID, content, msgType)
	if err != nil {
		return models.Message{}, apperrors.FromStore(err)
	}
	observability.IncMessageSent(string(msgType))
	if err := observability.PublishEvent(ctx, "message.sent", observability.EventEnvelope{
		EventType: "message_events",
		EventName: "message.sent",
		Payload: map[string]interface{}{
			"message_id":  msg.ID,
			"sender_id":   msg.SenderID,
			"receiver_id": msg.ReceiverID,
			"type":        msg.Type,
		},
	}, observability.HeadersFromContext(ctx)); err != nil {
		logger.Warn("publish message.sent for message %d failed: %v", msg.ID, err)
	}
	return msg, nil
}

func (s *Service) normalize(content string, msgType models.MessageType) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperrors.InvalidMessage("message cannot be empty")
	}

	if msgType == models.MessageImage {
		if utf8.RuneCountInString(content) > maxContentLength {
			return "", apperrors.InvalidMessage("message is too long")
		}
		u, err := url.Parse(content)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", apperrors.InvalidMessage("image messages must carry an http(s) url")
		}
		return u.String(), nil
	}

	// the policy escapes the text it keeps; store the text as written, minus markup
	clean := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(content)))
	if clean == "" {
		return "", apperrors.InvalidMessage("message cannot be empty")
	}
	if utf8.RuneCountInString(clean) > maxContentLength {
		return "", apperrors.InvalidMessage("message is too long")
	}
	return clean, nil
}

// Fetch returns the non-deleted messages between userA and userB in creation order.
// Messages addressed to userA that were unread are marked read by the call and
// returned with their new read_at.
func (s *Service) Fetch(ctx context.Context, userA, userB int) ([]models.Message, error) {
	msgs, err := s.messages.ListConversation(ctx, userA, userB)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}

	var unread []int
	for _, m := range msgs {
		if m.ReceiverID == userA && m.ReadAt == nil {
			unread = append(unread, m.ID)
		}
	}
	if len(unread) == 0 {
		return msgs, nil
	}

	read, err := s.messages.MarkRead(ctx, userA, unread)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	for i := range msgs {
		if at, ok := read[msgs[i].ID]; ok {
			at := at
			msgs[i].ReadAt = &at
		}
	}
	return msgs, nil
}

// MarkRead marks the given messages read for readerID. Ids of messages not addressed
// to the reader, already read or deleted are ignored.
func (s *Service) MarkRead(ctx context.Context, readerID int, messageIDs []int) (map[int]time.Time, error) {
	read, err := s.messages.MarkRead(ctx, readerID, messageIDs)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return read, nil
}

// MarkConversationRead marks everything peerID sent to readerID as read and returns
// how many messages changed.
func (s *Service) MarkConversationRead(ctx context.Context, readerID, peerID int) (int, error) {
	msgs, err := s.messages.ListConversation(ctx, readerID, peerID)
	if err != nil {
		return 0, apperrors.FromStore(err)
	}
	var unread []int
	for _, m := range msgs {
		if m.ReceiverID == readerID && m.ReadAt == nil {
			unread = append(unread, m.ID)
		}
	}
	read, err := s.MarkRead(ctx, readerID, unread)
	if err != nil {
		return 0, err
	}
	return len(read), nil
}

// Delete soft-deletes a message. Either participant may delete; deleting twice is a no-op.
func (s *Service) Delete(ctx context.Context, messageID, actorID int) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, apperrors.NotFound("message", err)
	}
	if err != nil {
		return models.Message{}, apperrors.FromStore(err)
	}
	if actorID != msg.SenderID && actorID != msg.ReceiverID {
		return models.Message{}, apperrors.Unauthorized("only the sender or receiver can delete a message")
	}
	if msg.DeletedAt != nil {
		return msg, nil
	}

	deleted, err := s.messages.SoftDelete(ctx, messageID)
	if err != nil {
		return models.Message{}, apperrors.FromStore(err)
	}
	return deleted, nil
}

// UnreadCount counts messages addressed to userID that are neither read nor deleted.
func (s *Service) UnreadCount(ctx context.Context, userID int) (int, error) {
	count, err := s.messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.FromStore(err)
	}
	return count, nil
}

// ListConversations returns one summary per conversation partner, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	summaries, err := s.messages.ListConversations(ctx, userID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return summaries, nil
}
