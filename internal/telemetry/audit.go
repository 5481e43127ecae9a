package telemetry

import (
	"context"
	"time"

	"barter-service/internal/logger"
	"barter-service/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter records user-initiated state changes (proposal transitions, item
// removal, message deletion) on the audit routing key.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

// AuditRecord is one audited action. ResourceID is 0 when the action failed before
// a resource was resolved.
type AuditRecord struct {
	Level      string
	Action     string
	Resource   string
	ResourceID int
	Text       string
	RequestID  string
	UserID     *string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level      string `json:"level"`
	Action     string `json:"action"`
	Resource   string `json:"resource"`
	ResourceID int    `json:"resource_id,omitempty"`
	Text       string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes rec. Failures are logged, never returned: auditing must not fail
// the request it describes.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	logger.Debug("audit emit: level=%s action=%s %s=%d request_id=%s", rec.Level, rec.Action, rec.Resource, rec.ResourceID, rec.RequestID)
	envelope := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		TraceID:       observability.TraceIDFromContext(ctx),
		UserID:        rec.UserID,
		Payload: AuditPayload{
			Level:      rec.Level,
			Action:     rec.Action,
			Resource:   rec.Resource,
			ResourceID: rec.ResourceID,
			Text:       rec.Text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		logger.Warn("audit publish failed action=%s: %v", rec.Action, err)
	}
}
