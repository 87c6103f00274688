package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auth-platform/api-gateway/internal/config"
	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
)

// Metrics are the discovery round's Prometheus instruments.
type Metrics struct {
	duration        prometheus.Histogram
	routesActive    prometheus.Gauge
	errorsTotal     prometheus.Counter
	skippedTotal    prometheus.Counter
	serviceStatus   *prometheus.GaugeVec
}

// NewMetrics registers the discovery metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "route_discovery_duration_seconds",
			Help: "Time taken to discover routes from backend services.",
		}),
		routesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "discovered_routes_total",
			Help: "Total number of discovered routes currently active in the gateway.",
		}),
		errorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "route_discovery_errors_total",
			Help: "Total number of route discovery errors encountered.",
		}),
		skippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "route_discovery_skipped_methods_total",
			Help: "Total number of methods skipped due to naming convention mismatch.",
		}),
		serviceStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "route_discovery_service_status",
			Help: "Status of route discovery per service (1=success, 0=failure).",
		}, []string{"service"}),
	}
}

// Discoverer runs one reflection-discovery round across every configured
// upstream, retaining the previous round's routes for any upstream whose
// reflection call fails.
type Discoverer struct {
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	lastGood map[string][]domain.RouteEntry
}

// NewDiscoverer constructs a Discoverer.
func NewDiscoverer(logger *slog.Logger, metrics *Metrics) *Discoverer {
	return &Discoverer{
		logger:   logger,
		metrics:  metrics,
		lastGood: make(map[string][]domain.RouteEntry),
	}
}

// Dialer resolves an upstream name to an open channel. *pool.Pool satisfies
// this directly.
type Dialer interface {
	Get(ctx context.Context, upstream string) (*grpc.ClientConn, error)
}

// ReflectFunc performs the reflection RPC over an already-dialed channel.
// Kept as a narrow function type (rather than requiring a *Reflector
// directly) so tests can substitute a fake without standing up a real gRPC
// server; (*Reflector).Discover satisfies it.
type ReflectFunc func(ctx context.Context, conn *grpc.ClientConn, upstream string) ([]domain.MethodDescriptor, error)

// Round runs discovery for every entry in upstreams, applying reflect to
// each. A failing upstream keeps its previous round's routes (or
// contributes none if it has never succeeded); a succeeding upstream's
// methods are mapped to routes via the naming convention, with non-matching
// methods skipped and counted.
func (d *Discoverer) Round(ctx context.Context, upstreams map[string]config.ServiceConfig, dial Dialer, reflect ReflectFunc) []domain.RouteEntry {
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.duration.Observe(time.Since(start).Seconds())
		}
	}()

	var all []domain.RouteEntry
	for name, svc := range upstreams {
		if !svc.AutoDiscover {
			continue
		}
		entries := d.discoverOne(ctx, name, dial, reflect)
		all = append(all, entries...)
	}

	if d.metrics != nil {
		d.metrics.routesActive.Set(float64(len(all)))
	}
	return all
}

func (d *Discoverer) discoverOne(ctx context.Context, upstream string, dial Dialer, reflect ReflectFunc) []domain.RouteEntry {
	conn, err := dial.Get(ctx, upstream)
	if err != nil {
		return d.fallback(upstream, "dial failed", err)
	}

	methods, err := reflect(ctx, conn, upstream)
	if err != nil {
		return d.fallback(upstream, "reflection failed", err)
	}

	entries := make([]domain.RouteEntry, 0, len(methods))
	for _, m := range methods {
		httpMethod, path, ok := MatchConvention(m.Method)
		if !ok {
			if d.metrics != nil {
				d.metrics.skippedTotal.Inc()
			}
			d.logger.Debug("skipping method, no naming convention match", slog.String("upstream", upstream), slog.String("method", m.Method))
			continue
		}
		entries = append(entries, newRouteEntry(upstream, m, httpMethod, path))
	}

	d.mu.Lock()
	d.lastGood[upstream] = entries
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.serviceStatus.WithLabelValues(upstream).Set(1)
	}
	d.logger.Info("discovered routes", slog.String("upstream", upstream), slog.Int("routes", len(entries)))
	return entries
}

func (d *Discoverer) fallback(upstream, reason string, err error) []domain.RouteEntry {
	if d.metrics != nil {
		d.metrics.errorsTotal.Inc()
		d.metrics.serviceStatus.WithLabelValues(upstream).Set(0)
	}
	d.logger.Warn("discovery round failed for upstream, retaining prior routes",
		slog.String("upstream", upstream), slog.String("reason", reason), slog.Any("error", err))

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastGood[upstream]
}
