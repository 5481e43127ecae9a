package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"barter-service/internal/logger"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLength   = 128
)

type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Middleware records responses of requests carrying an Idempotency-Key and replays
// them for retries by the same user. Requests without the header pass through. If the
// store is unreachable requests proceed unprotected. Must run after AuthMiddleware.
//
// successStatus is the status the route answers with when its write succeeds. It is
// recorded for writes that finish after the client went away, so a retry gets the
// result instead of running the write twice.
func Middleware(store Store, ttl time.Duration, successStatus int) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderKey)
		if raw == "" {
			c.Next()
			return
		}
		if len(raw) > maxKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "idempotency key is too long"})
			return
		}

		key := fmt.Sprintf("idem:%d:%s:%s:%s", c.GetInt("userID"), c.Request.Method, c.FullPath(), raw)
		ctx := c.Request.Context()

		reserved, err := store.Reserve(ctx, key, ttl)
		if err != nil {
			logger.Warn("idempotency reserve failed, continuing without: %v", err)
			c.Next()
			return
		}
		if !reserved {
			resp, err := store.Load(ctx, key)
			switch {
			case err == ErrInFlight:
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
				return
			case err != nil:
				logger.Warn("idempotency load failed, continuing without: %v", err)
				c.Next()
				return
			case resp != nil:
				c.Header(HeaderReplayed, "true")
				c.Data(resp.Status, resp.ContentType, resp.Body)
				c.Abort()
				return
			}
			// expired between reserve and load: run normally
			c.Next()
			return
		}

		h := newHandoff()
		c.Request = c.Request.WithContext(context.WithValue(ctx, handoffKey{}, h))
		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		bg := context.WithoutCancel(ctx)
		if ctx.Err() != nil && h.taken.Load() {
			// the write may still commit; keep the key pending until it settles
			go settleAbandoned(bg, store, key, ttl, successStatus, h)
			return
		}
		status := rec.Status()
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			// let the client retry for real
			if err := store.Release(bg, key); err != nil {
				logger.Warn("idempotency release failed: %v", err)
			}
			return
		}
		resp := Response{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		}
		if err := store.Save(bg, key, resp, ttl); err != nil {
			logger.Warn("idempotency save failed: %v", err)
		}
	}
}

// settleAbandoned records the outcome of a write whose client stopped waiting. A failed
// write releases the key. A write that never settles leaves the key pending until ttl.
func settleAbandoned(ctx context.Context, store Store, key string, ttl time.Duration, status int, h *handoff) {
	timer := time.NewTimer(ttl)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		return
	}

	if h.err != nil {
		if err := store.Release(ctx, key); err != nil {
			logger.Warn("idempotency release failed: %v", err)
		}
		return
	}
	body, err := json.Marshal(h.result)
	if err != nil {
		logger.Warn("idempotency encode of abandoned result failed: %v", err)
		return
	}
	resp := Response{Status: status, ContentType: "application/json; charset=utf-8", Body: body}
	if err := store.Save(ctx, key, resp, ttl); err != nil {
		logger.Warn("idempotency save failed: %v", err)
	}
}
