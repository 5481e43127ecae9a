package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barter-service/internal/models"
	"barter-service/internal/telemetry"
)

// ConversationHandler manages direct message endpoints.
type ConversationHandler struct {
	sessions SessionFactory
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(sessions SessionFactory, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{sessions: sessions, audit: audit}
}

// ListConversations handles GET /conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	list, err := h.sessions(c.GetInt("userID")).Conversations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// GetMessages handles GET /conversations/:peer_id/messages. Fetching reads every
// message addressed to the caller.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	peerID, ok := parseIDParam(c, "peer_id")
	if !ok {
		return
	}
	msgs, err := h.sessions(c.GetInt("userID")).FetchConversation(c.Request.Context(), peerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage handles POST /conversations/:peer_id/messages.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	peerID, ok := parseIDParam(c, "peer_id")
	if !ok {
		return
	}

	var req struct {
		Content string             `json:"content" binding:"required"`
		Type    models.MessageType `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.sessions(c.GetInt("userID")).SendMessage(c.Request.Context(), peerID, req.Content, req.Type)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead handles POST /conversations/:peer_id/read.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	peerID, ok := parseIDParam(c, "peer_id")
	if !ok {
		return
	}
	marked, err := h.sessions(c.GetInt("userID")).MarkConversationRead(c.Request.Context(), peerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// DeleteMessage handles DELETE /messages/:message_id.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseIDParam(c, "message_id")
	if !ok {
		return
	}
	if _, err := h.sessions(c.GetInt("userID")).DeleteMessage(c.Request.Context(), messageID); err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "message.delete", "message", messageID, "Message deleted")
	c.Status(http.StatusNoContent)
}

// UnreadCount handles GET /messages/unread_count.
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	count, err := h.sessions(c.GetInt("userID")).UnreadCount(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}
