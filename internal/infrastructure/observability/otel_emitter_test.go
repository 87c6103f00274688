package observability

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/auth-platform/api-gateway/internal/domain"
	"go.opentelemetry.io/otel/sdk/metric"
)

func newTestEmitter(t *testing.T) *OTelEmitter {
	t.Helper()
	meter := metric.NewMeterProvider().Meter("test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	emitter, err := NewOTelEmitter(meter, logger)
	if err != nil {
		t.Fatalf("NewOTelEmitter() error = %v", err)
	}
	return emitter
}

func TestOTelEmitter_EmitDoesNotPanicForEveryEventType(t *testing.T) {
	emitter := newTestEmitter(t)

	eventTypes := []domain.EventType{
		domain.EventCircuitStateChange,
		domain.EventRateLimitHit,
		domain.EventRetryAttempt,
		domain.EventRetryExhausted,
		domain.EventTimeout,
		domain.EventRouteDiscovered,
		domain.EventRouteTableSwapped,
		domain.EventAuthDenied,
		domain.EventPoolChannelCreated,
	}

	for _, et := range eventTypes {
		emitter.Emit(domain.GatewayEvent{
			ID:        "evt-1",
			Type:      et,
			Timestamp: time.Now(),
			Metadata:  map[string]any{"service": "billing-service"},
		})
	}
}

func TestOTelEmitter_ImplementsDomainEventEmitter(t *testing.T) {
	var _ domain.EventEmitter = newTestEmitter(t)
}
