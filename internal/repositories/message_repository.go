package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"barter-service/internal/models"
)

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID int, content string, msgType models.MessageType) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListConversation(ctx context.Context, userA, userB int) ([]models.Message, error)
	MarkRead(ctx context.Context, receiverID int, messageIDs []int) (map[int]time.Time, error)
	SoftDelete(ctx context.Context, messageID int) (models.Message, error)
	CountUnread(ctx context.Context, userID int) (int, error)
	ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, sender_id, receiver_id, content, type, created_at, read_at, deleted_at`

// CreateMessage stores an unread message.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID, receiverID int, content string, msgType models.MessageType) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (sender_id, receiver_id, content, type)
        VALUES ($1, $2, $3, $4) RETURNING `+messageColumns, senderID, receiverID, content, msgType)
	return msg, err
}

// GetMessage retrieves a single message, deleted or not.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListConversation returns the non-deleted messages between the pair in either
// direction, ordered by creation time with the id as tie breaker.
func (r *MessageRepo) ListConversation(ctx context.Context, userA, userB int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE LEAST(sender_id, receiver_id) = LEAST($1::int, $2::int)
        AND GREATEST(sender_id, receiver_id) = GREATEST($1::int, $2::int)
        AND deleted_at IS NULL
        ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, userA, userB)
	return msgs, err
}

// MarkRead sets read_at on the given messages addressed to receiverID that are still
// unread. Already read rows keep their timestamp and are not returned.
func (r *MessageRepo) MarkRead(ctx context.Context, receiverID int, messageIDs []int) (map[int]time.Time, error) {
	read := make(map[int]time.Time)
	if len(messageIDs) == 0 {
		return read, nil
	}

	ids := make([]int64, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = int64(id)
	}
	rows, err := r.db.QueryxContext(ctx, `UPDATE messages SET read_at = GREATEST(NOW(), created_at)
        WHERE id = ANY($1) AND receiver_id=$2 AND read_at IS NULL AND deleted_at IS NULL
        RETURNING id, read_at`, pq.Array(ids), receiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int
			readAt time.Time
		)
		if err := rows.Scan(&id, &readAt); err != nil {
			return nil, err
		}
		read[id] = readAt
	}
	return read, rows.Err()
}

// SoftDelete sets deleted_at once. Deleting an already deleted message returns it unchanged.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET deleted_at = NOW()
        WHERE id=$1 AND deleted_at IS NULL
        RETURNING `+messageColumns, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetMessage(ctx, messageID)
	}
	return msg, err
}

// CountUnread counts messages addressed to the user that are neither read nor deleted.
func (r *MessageRepo) CountUnread(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE receiver_id=$1 AND read_at IS NULL AND deleted_at IS NULL`, userID)
	return count, err
}

// ListConversations summarises every peer the user has exchanged messages with.
func (r *MessageRepo) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT
            CASE WHEN sender_id=$1 THEN receiver_id ELSE sender_id END AS peer_id,
            MAX(created_at) AS last_message_at,
            COUNT(*) FILTER (WHERE receiver_id=$1 AND read_at IS NULL) AS unread_count
        FROM messages
        WHERE (sender_id=$1 OR receiver_id=$1) AND deleted_at IS NULL
        GROUP BY 1
        ORDER BY last_message_at DESC`
	var summaries []models.ConversationSummary
	err := r.db.SelectContext(ctx, &summaries, query, userID)
	return summaries, err
}
