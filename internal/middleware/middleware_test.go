package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator map[string]int

func (s stubValidator) ValidateToken(ctx context.Context, token string) (int, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, errors.New("invalid token")
}

type countingUsers struct {
	calls int
	err   error
}

func (c *countingUsers) EnsureUser(ctx context.Context, userID int) error {
	c.calls++
	return c.err
}

func setupAuthRouter(users UserRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(stubValidator{"good": 7}, users))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt("userID")})
	})
	return r
}

func doGet(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	users := &countingUsers{}
	router := setupAuthRouter(users)

	assert.Equal(t, http.StatusUnauthorized, doGet(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "Bearer bad").Code)

	rec := doGet(router, "Bearer good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":7}`, rec.Body.String())

	doGet(router, "Bearer good")
	assert.Equal(t, 1, users.calls, "known users are cached")
}

func TestAuthMiddlewareUserStoreDown(t *testing.T) {
	router := setupAuthRouter(&countingUsers{err: errors.New("db down")})
	assert.Equal(t, http.StatusServiceUnavailable, doGet(router, "Bearer good").Code)
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(1, 2)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.Use(limiter.Middleware())
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, doGet(r, "").Code)
	assert.Equal(t, http.StatusNoContent, doGet(r, "").Code)

	rec := doGet(r, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"retry_after"`)
}

func TestRateLimiterCleanup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(6000, 1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.Use(limiter.Middleware())
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	doGet(r, "")
	require.Equal(t, 1, limiter.Len())

	require.Eventually(t, func() bool {
		limiter.Cleanup()
		return limiter.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
