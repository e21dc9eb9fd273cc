package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aguacachat-sync/internal/mocks"
	"aguacachat-sync/internal/telemetry"
)

func TestNotifyPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	n := telemetry.NewNotifier(pub, "chat.audit", "test", zap.NewNop().Sugar())

	userID := "alice"
	pub.On("Publish", mock.Anything, "chat.audit", mock.MatchedBy(func(event any) bool {
		env, ok := event.(telemetry.AuditEnvelope)
		if !ok {
			return false
		}
		return env.SchemaVersion == 1 &&
			env.EventType == "audit_log" &&
			env.Environment == "test" &&
			env.UserID != nil && *env.UserID == "alice" &&
			env.Payload.Level == "WARN" &&
			env.Payload.Text == "something failed"
	})).Return(nil).Once()

	n.Notify(context.Background(), "WARN", "something failed", &userID)
	pub.AssertExpectations(t)
}

func TestNotifySwallowsPublishErrors(t *testing.T) {
	pub := new(mocks.PublisherMock)
	n := telemetry.NewNotifier(pub, "chat.audit", "test", zap.NewNop().Sugar())

	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	// Notify never propagates failure; an audit outage must not break the
	// sync loop.
	require.NotPanics(t, func() {
		n.Notify(context.Background(), "WARN", "oops", nil)
	})
}

func TestNotifyNilNotifierIsNoop(t *testing.T) {
	var n *telemetry.Notifier
	require.NotPanics(t, func() {
		n.Notify(context.Background(), "INFO", "hello", nil)
	})
}
