// Package observability provides OpenTelemetry-based observability implementations.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/auth-platform/api-gateway/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelEmitter implements domain.EventEmitter by incrementing a per-event-type
// counter and logging at debug level. It is the production emitter
// subscribed to the event bus that the circuit breakers and the rate limiter
// emit into; tests use circuitbreaker.MockEventEmitter instead.
type OTelEmitter struct {
	logger *slog.Logger

	eventCounter   metric.Int64Counter
	circuitCounter metric.Int64Counter
	retryCounter   metric.Int64Counter
	rateLimitCount metric.Int64Counter
}

// NewOTelEmitter creates a new OpenTelemetry-based event emitter.
func NewOTelEmitter(meter metric.Meter, logger *slog.Logger) (*OTelEmitter, error) {
	eventCounter, err := meter.Int64Counter(
		"gateway_events_total",
		metric.WithDescription("total number of gateway domain events emitted"),
	)
	if err != nil {
		return nil, err
	}

	circuitCounter, err := meter.Int64Counter(
		"gateway_circuit_state_changes_total",
		metric.WithDescription("total number of circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	retryCounter, err := meter.Int64Counter(
		"gateway_retry_attempts_total",
		metric.WithDescription("total number of retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	rateLimitCount, err := meter.Int64Counter(
		"gateway_rate_limit_exceeded_total",
		metric.WithDescription("total number of requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelEmitter{
		logger:         logger,
		eventCounter:   eventCounter,
		circuitCounter: circuitCounter,
		retryCounter:   retryCounter,
		rateLimitCount: rateLimitCount,
	}, nil
}

// Emit implements domain.EventEmitter. It increments the appropriate
// counter and logs the event at debug level. It never fails: observability
// must never be allowed to fail the request that triggered it.
func (o *OTelEmitter) Emit(event domain.GatewayEvent) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("event_type", string(event.Type)))

	o.eventCounter.Add(ctx, 1, attrs)

	switch event.Type {
	case domain.EventCircuitStateChange:
		o.circuitCounter.Add(ctx, 1)
	case domain.EventRetryAttempt, domain.EventRetryExhausted:
		o.retryCounter.Add(ctx, 1)
	case domain.EventRateLimitHit:
		o.rateLimitCount.Add(ctx, 1)
	}

	fields := make([]any, 0, 4+2*len(event.Metadata))
	fields = append(fields,
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("trace_id", event.TraceID),
		slog.Time("timestamp", event.Timestamp))
	for k, v := range event.Metadata {
		fields = append(fields, slog.String(k, toString(v)))
	}

	o.logger.Debug("gateway event emitted", fields...)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
