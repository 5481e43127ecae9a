package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"barter-service/internal/mocks"
	"barter-service/internal/telemetry"
)

type reconcilerFunc func(ctx context.Context) (int, error)

func (f reconcilerFunc) Reconcile(ctx context.Context) (int, error) { return f(ctx) }

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, nil, false)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/debug/audit-test", "").Code)
}

func TestDebugRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit", "barter-service", "test")
	r := gin.New()
	RegisterDebugRoutes(r, audit, reconcilerFunc(func(context.Context) (int, error) { return 2, nil }), true)

	publisher.On("Publish", mock.Anything, "audit", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "debug.audit_test"
	})).Return(nil).Once()

	rec := do(r, http.MethodGet, "/debug/audit-test", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodPost, "/debug/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["repaired"])
	publisher.AssertExpectations(t)
}
