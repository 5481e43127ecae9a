package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"barter-service/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt("userID"); userID != 0 {
		value := strconv.Itoa(userID)
		return &value
	}
	return nil
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, level, action, resource string, resourceID int, text string) {
	if audit == nil {
		return
	}
	audit.Emit(c.Request.Context(), telemetry.AuditRecord{
		Level:      level,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Text:       text,
		RequestID:  requestIDFromContext(c),
		UserID:     userIDFromContext(c),
	})
}
