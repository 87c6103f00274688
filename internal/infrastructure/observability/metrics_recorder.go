// Package observability provides metrics recording for the gateway's HTTP
// surface, built on prometheus/client_golang.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder exposes the gateway's request-path Prometheus metrics.
// It is registered once at startup and handed to the dispatcher and the
// control loop so both record into the same registry.
type MetricsRecorder struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	grpcCallsTotal     *prometheus.CounterVec
	authFailuresTotal  *prometheus.CounterVec
	rateLimitExceeded  *prometheus.CounterVec
	circuitStateGauge  *prometheus.GaugeVec
	trackedClientGauge prometheus.Gauge
}

// NewMetricsRecorder registers the gateway's metrics against reg and
// returns a recorder bound to them. Pass prometheus.NewRegistry() in tests
// to avoid colliding with the global default registry across test runs.
func NewMetricsRecorder(reg prometheus.Registerer) *MetricsRecorder {
	factory := promauto.With(reg)

	return &MetricsRecorder{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of HTTP requests handled, by route and status class.",
		}, []string{"service", "method", "status_class"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request latency from HTTP receipt to response write.",
			Buckets: DefaultLatencyBuckets,
		}, []string{"service", "method"}),

		grpcCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_grpc_calls_total",
			Help: "Total number of upstream gRPC calls, by service and result code.",
		}, []string{"service", "grpc_method", "code"}),

		authFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total number of requests rejected by the auth gate, by reason.",
		}, []string{"reason"}),

		rateLimitExceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_exceeded_total",
			Help: "Total number of requests rejected by the per-client rate limiter.",
		}, []string{"service"}),

		circuitStateGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Current circuit breaker state per service (0=closed, 1=open, 2=half_open).",
		}, []string{"service"}),

		trackedClientGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_rate_limiter_tracked_clients",
			Help: "Number of client keys currently tracked by the rate limiter.",
		}),
	}
}

// RecordRequest records a completed HTTP request.
func (r *MetricsRecorder) RecordRequest(service, httpMethod, statusClass string, duration time.Duration) {
	r.requestsTotal.WithLabelValues(service, httpMethod, statusClass).Inc()
	r.requestDuration.WithLabelValues(service, httpMethod).Observe(duration.Seconds())
}

// RecordGRPCCall records the outcome of an upstream gRPC call.
func (r *MetricsRecorder) RecordGRPCCall(service, grpcMethod, code string) {
	r.grpcCallsTotal.WithLabelValues(service, grpcMethod, code).Inc()
}

// RecordAuthFailure records a request rejected by the auth gate.
func (r *MetricsRecorder) RecordAuthFailure(reason string) {
	r.authFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimitExceeded records a request rejected by the rate limiter.
func (r *MetricsRecorder) RecordRateLimitExceeded(service string) {
	r.rateLimitExceeded.WithLabelValues(service).Inc()
}

// SetCircuitState updates the gauge for a service's current breaker state.
func (r *MetricsRecorder) SetCircuitState(service string, stateValue float64) {
	r.circuitStateGauge.WithLabelValues(service).Set(stateValue)
}

// SetTrackedClients updates the rate limiter's tracked-client gauge.
func (r *MetricsRecorder) SetTrackedClients(count int) {
	r.trackedClientGauge.Set(float64(count))
}
