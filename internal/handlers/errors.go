package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"barter-service/internal/apperrors"
	"barter-service/internal/logger"
)

// respondError writes err as {"error", "code", "retryable"} with its mapped status.
func respondError(c *gin.Context, err error) {
	status, code, message, retryable := apperrors.Describe(err)
	if status >= http.StatusInternalServerError {
		logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": message, "code": code, "retryable": retryable})
}

func parseIDParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
