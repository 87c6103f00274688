// Package observability provides OpenTelemetry setup and configuration.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auth-platform/api-gateway/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// otlpDialTimeout bounds how long the exporter waits to establish its
// connection to the collector.
const otlpDialTimeout = 5 * time.Second

// Setup configures OpenTelemetry with the provided configuration.
func Setup(ctx context.Context, cfg config.ObservabilityConfig, logger *slog.Logger) (func(), error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider, err := setupTracing(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}

	otel.SetTracerProvider(tracerProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("opentelemetry configured",
		slog.String("service_name", cfg.ServiceName),
		slog.String("service_version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.String("endpoint", cfg.OTelEndpoint))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracer provider", slog.String("error", err.Error()))
		}

		logger.Info("opentelemetry shutdown complete")
	}, nil
}

// setupTracing configures the tracing pipeline.
func setupTracing(ctx context.Context, cfg config.ObservabilityConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var opts []grpc.DialOption
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTelEndpoint),
		otlptracegrpc.WithDialOption(opts...),
		otlptracegrpc.WithTimeout(otlpDialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	return tp, nil
}

// GetTracer returns the gateway's tracer.
func GetTracer() trace.Tracer {
	return otel.Tracer("api-gateway")
}

// GetMeter returns the gateway's meter.
func GetMeter() metric.Meter {
	return otel.Meter("api-gateway")
}

// StructuredLogger enriches slog output with trace/span IDs pulled from
// the request context.
type StructuredLogger struct {
	logger *slog.Logger
}

// NewStructuredLogger creates a new structured logger.
func NewStructuredLogger(logger *slog.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func (s *StructuredLogger) Debug(ctx context.Context, msg string, fields map[string]any) {
	s.logger.DebugContext(ctx, msg, s.args(ctx, fields)...)
}

func (s *StructuredLogger) Info(ctx context.Context, msg string, fields map[string]any) {
	s.logger.InfoContext(ctx, msg, s.args(ctx, fields)...)
}

func (s *StructuredLogger) Warn(ctx context.Context, msg string, fields map[string]any) {
	s.logger.WarnContext(ctx, msg, s.args(ctx, fields)...)
}

func (s *StructuredLogger) Error(ctx context.Context, msg string, err error, fields map[string]any) {
	args := s.args(ctx, fields)
	args = append(args, slog.String("error", err.Error()))
	s.logger.ErrorContext(ctx, msg, args...)
}

func (s *StructuredLogger) args(ctx context.Context, fields map[string]any) []any {
	var args []any

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		args = append(args,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}

	return args
}

// DistributedTracer wraps an OTel tracer with the handful of operations the
// dispatcher needs: start a span, annotate it, and close over errors.
type DistributedTracer struct {
	tracer trace.Tracer
}

// NewDistributedTracer creates a new distributed tracer.
func NewDistributedTracer(tracer trace.Tracer) *DistributedTracer {
	return &DistributedTracer{tracer: tracer}
}

// StartSpan starts a new span with the given name.
func (d *DistributedTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := d.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}

// AddEvent adds an event to the current span.
func (d *DistributedTracer) AddEvent(ctx context.Context, name string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name)
}

// RecordError records an error in the current span.
func (d *DistributedTracer) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
}
