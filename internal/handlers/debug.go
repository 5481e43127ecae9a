package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"barter-service/internal/telemetry"
)

// Reconciler repairs accepted or completed proposals whose settlement did not finish.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// RegisterDebugRoutes wires operator-only endpoints. Nothing is registered unless enabled.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, reconciler Reconciler, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(c, emitter, "INFO", "debug.audit_test", "debug", 0, "audit test")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/debug/reconcile", func(c *gin.Context) {
		repaired, err := reconciler.Reconcile(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"repaired": repaired})
	})
}
