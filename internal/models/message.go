package models

import "time"

// MessageType distinguishes plain text from image messages.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage
}

// Message is one unit exchanged between two users. Rows are never edited in place:
// they are read once and/or soft-deleted.
type Message struct {
	ID         int         `db:"id" json:"id"`
	SenderID   int         `db:"sender_id" json:"sender_id"`
	ReceiverID int         `db:"receiver_id" json:"receiver_id"`
	Content    string      `db:"content" json:"content"`
	Type       MessageType `db:"type" json:"type"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	ReadAt     *time.Time  `db:"read_at" json:"read_at"`
	DeletedAt  *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Involves reports whether the message belongs to the conversation between a and b.
func (m Message) Involves(a, b int) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Unread reports whether the message still counts towards the receiver's badge.
func (m Message) Unread() bool {
	return m.ReadAt == nil && m.DeletedAt == nil
}

// ConversationSummary describes a conversation partner for a user.
type ConversationSummary struct {
	PeerID        int       `db:"peer_id" json:"peer_id"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
	UnreadCount   int       `db:"unread_count" json:"unread_count"`
}
