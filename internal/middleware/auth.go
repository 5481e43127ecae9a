package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"barter-service/internal/auth"
	"barter-service/internal/logger"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// UserRecorder records user ids the first time they authenticate.
type UserRecorder interface {
	EnsureUser(ctx context.Context, userID int) error
}

// AuthMiddleware validates the Authorization header and sets "userID" on the context.
func AuthMiddleware(validator TokenValidator, users UserRecorder) gin.HandlerFunc {
	var known sync.Map

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := auth.TokenFromHeader(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		userID, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if users != nil {
			if _, seen := known.Load(userID); !seen {
				if err := users.EnsureUser(c.Request.Context(), userID); err != nil {
					logger.Error("record user %d: %v", userID, err)
					c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "could not load user", "retryable": true})
					return
				}
				known.Store(userID, struct{}{})
			}
		}

		c.Set("userID", userID)
		c.Next()
	}
}
