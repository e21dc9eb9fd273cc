package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Publisher publishes audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Notifier is the headless stand-in for the UI's toast layer: non-fatal
// engine failures become audit events instead of crashing the sync loop.
type Notifier struct {
	publisher   Publisher
	routingKey  string
	environment string
	log         *zap.SugaredLogger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// NewNotifier builds a notifier over the publisher.
func NewNotifier(publisher Publisher, routingKey, environment string, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		publisher:   publisher,
		routingKey:  routingKey,
		environment: environment,
		log:         log,
	}
}

// Notify emits one audit event. A nil notifier or publisher is a no-op so
// call sites never need a guard.
func (n *Notifier) Notify(ctx context.Context, level, text string, userID *string) {
	if n == nil || n.publisher == nil {
		return
	}

	n.log.Infow("audit notify", "level", level, "user_id", userID, "text", text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       "aguacachat-sync",
		Environment:   n.environment,
		UserID:        userID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}

	if err := n.publisher.Publish(ctx, n.routingKey, envelope); err != nil {
		n.log.Warnw("audit publish failed", "error", err)
	}
}
