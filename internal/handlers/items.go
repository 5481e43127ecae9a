package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barter-service/internal/telemetry"
)

// ItemHandler manages item endpoints.
type ItemHandler struct {
	sessions SessionFactory
	audit    *telemetry.AuditEmitter
}

// NewItemHandler constructs an ItemHandler.
func NewItemHandler(sessions SessionFactory, audit *telemetry.AuditEmitter) *ItemHandler {
	return &ItemHandler{sessions: sessions, audit: audit}
}

// CreateItem handles POST /items.
func (h *ItemHandler) CreateItem(c *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.sessions(c.GetInt("userID")).CreateItem(c.Request.Context(), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "item.create", "item", item.ID, "Item created")
	c.JSON(http.StatusCreated, item)
}

// GetItem handles GET /items/:item_id.
func (h *ItemHandler) GetItem(c *gin.Context) {
	itemID, ok := parseIDParam(c, "item_id")
	if !ok {
		return
	}
	item, err := h.sessions(c.GetInt("userID")).Item(c.Request.Context(), itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// RemoveItem handles DELETE /items/:item_id. Pending proposals on the item are cancelled.
func (h *ItemHandler) RemoveItem(c *gin.Context) {
	itemID, ok := parseIDParam(c, "item_id")
	if !ok {
		return
	}
	item, err := h.sessions(c.GetInt("userID")).RemoveItem(c.Request.Context(), itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "item.remove", "item", itemID, "Item removed")
	c.JSON(http.StatusOK, item)
}
