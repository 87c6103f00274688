package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// EventType enumerates the gateway's observability events. These feed the
// structured logger and, where wired, an audit sink; they are not on the
// request hot path's correctness, only its observability.
type EventType string

const (
	EventCircuitStateChange EventType = "circuit_state_change"
	EventRateLimitHit        EventType = "rate_limit_hit"
	EventRetryAttempt        EventType = "retry_attempt"
	EventRetryExhausted      EventType = "retry_exhausted"
	EventTimeout             EventType = "timeout"
	EventRouteDiscovered     EventType = "route_discovered"
	EventRouteTableSwapped   EventType = "route_table_swapped"
	EventAuthDenied          EventType = "auth_denied"
	EventPoolChannelCreated  EventType = "pool_channel_created"
)

// GatewayEvent is a single observability event with optional trace linkage.
type GatewayEvent struct {
	ID         string
	Type       EventType
	Timestamp  time.Time
	TraceID    string
	SpanID     string
	Metadata   map[string]any
}

// EventEmitter is implemented by anything that can record a GatewayEvent —
// the slog-backed default, the OpenTelemetry metrics emitter, or a test double.
type EventEmitter interface {
	Emit(event GatewayEvent)
}

// EventBuilder builds events and, when a context carrying an active span is
// available, stamps them with the active trace/span IDs. Its serviceName is
// not written into the events it builds.
type EventBuilder struct {
	emitter     EventEmitter
	serviceName string
}

// NewEventBuilder constructs an EventBuilder bound to a component name.
func NewEventBuilder(emitter EventEmitter, serviceName string) *EventBuilder {
	return &EventBuilder{emitter: emitter, serviceName: serviceName}
}

// Build constructs a GatewayEvent without emitting it.
func (b *EventBuilder) Build(eventType EventType, metadata map[string]any) GatewayEvent {
	return GatewayEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// BuildWithContext is like Build but stamps the event with the active span's
// trace/span IDs when ctx carries one.
func (b *EventBuilder) BuildWithContext(ctx context.Context, eventType EventType, metadata map[string]any) GatewayEvent {
	event := b.Build(eventType, metadata)
	span := trace.SpanContextFromContext(ctx)
	if span.IsValid() {
		event.TraceID = span.TraceID().String()
		event.SpanID = span.SpanID().String()
	}
	return event
}

// Emit builds and emits an event in one call.
func (b *EventBuilder) Emit(eventType EventType, metadata map[string]any) {
	if b == nil || b.emitter == nil {
		return
	}
	b.emitter.Emit(b.Build(eventType, metadata))
}

// EmitWithContext builds (with trace linkage) and emits an event in one call.
func (b *EventBuilder) EmitWithContext(ctx context.Context, eventType EventType, metadata map[string]any) {
	if b == nil || b.emitter == nil {
		return
	}
	b.emitter.Emit(b.BuildWithContext(ctx, eventType, metadata))
}

// GetServiceName returns the component name events are attributed to.
func (b *EventBuilder) GetServiceName() string { return b.serviceName }
