// Package controlloop runs the gateway's background route-table
// maintenance: periodic reflection discovery, manual-override merging,
// dedup, and an atomic swap into the live routing snapshot, plus a
// shorter-interval circuit breaker stats refresh and idle rate-limit
// client eviction.
package controlloop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auth-platform/api-gateway/internal/circuitbreaker"
	"github.com/auth-platform/api-gateway/internal/config"
	"github.com/auth-platform/api-gateway/internal/discovery"
	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/auth-platform/api-gateway/internal/ratelimit"
	"github.com/auth-platform/api-gateway/internal/routetable"
)

// RefreshResult is the outcome of one discovery pass, returned by Run's
// ticks and by a forced admin refresh.
type RefreshResult struct {
	Success          bool     `json:"success"`
	RoutesDiscovered int      `json:"routes_discovered"`
	ServicesQueried  int      `json:"services_queried"`
	Errors           []string `json:"errors"`
}

// MetricsRecorder is the subset of observability.MetricsRecorder the
// control loop depends on for its stats-refresh tick.
type MetricsRecorder interface {
	SetCircuitState(service string, stateValue float64)
	SetTrackedClients(count int)
}

// Loop owns the gateway's route table snapshot and runs its periodic
// maintenance. It is safe to call Refresh concurrently with Run's own
// ticking; a mutex serializes discovery passes so a forced admin refresh
// never races the ticker.
type Loop struct {
	discoverer *discovery.Discoverer
	dial       discovery.Dialer
	reflect    discovery.ReflectFunc

	services  map[string]config.ServiceConfig
	overrides []domain.RouteEntry
	dedupMode routetable.DedupMode

	routes   *routetable.Snapshot
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.Registry
	metrics  MetricsRecorder

	refreshInterval time.Duration
	statsInterval   time.Duration

	logger *slog.Logger

	mu sync.Mutex
}

// Config holds Loop construction options.
type Config struct {
	Discoverer *discovery.Discoverer
	Dial       discovery.Dialer
	Reflect    discovery.ReflectFunc

	Services  map[string]config.ServiceConfig
	Overrides []config.RouteOverride
	StrictDedup bool

	Routes   *routetable.Snapshot
	Limiter  *ratelimit.Limiter
	Breakers *circuitbreaker.Registry
	Metrics  MetricsRecorder

	RefreshInterval time.Duration
	StatsInterval   time.Duration

	Logger *slog.Logger
}

// New constructs a Loop. Overrides are converted to domain.RouteEntry once
// at construction time and re-prepended ahead of every discovery round's
// results, so they always win dedup (Open Question (b): overrides take
// priority over discovered routes).
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dedupMode := routetable.DedupLenient
	if cfg.StrictDedup {
		dedupMode = routetable.DedupStrict
	}

	overrides := make([]domain.RouteEntry, 0, len(cfg.Overrides))
	for _, o := range cfg.Overrides {
		overrides = append(overrides, domain.RouteEntry{
			Upstream: o.Upstream,
			Pattern:  routetable.ParsePattern(o.PathPattern, o.HTTPMethod),
			Method: domain.MethodDescriptor{
				Service:     o.Service,
				Method:      o.Method,
				HTTPMethod:  o.HTTPMethod,
				PathPattern: o.PathPattern,
			},
		})
	}

	return &Loop{
		discoverer:      cfg.Discoverer,
		dial:            cfg.Dial,
		reflect:         cfg.Reflect,
		services:        cfg.Services,
		overrides:       overrides,
		dedupMode:       dedupMode,
		routes:          cfg.Routes,
		limiter:         cfg.Limiter,
		breakers:        cfg.Breakers,
		metrics:         cfg.Metrics,
		refreshInterval: cfg.RefreshInterval,
		statsInterval:   cfg.StatsInterval,
		logger:          logger,
	}
}

// Run blocks ticking the discovery and stats-refresh intervals until ctx is
// cancelled. Intended to run in its own goroutine from main.
func (l *Loop) Run(ctx context.Context) {
	refreshTicker := time.NewTicker(l.refreshInterval)
	defer refreshTicker.Stop()
	statsTicker := time.NewTicker(l.statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.C:
			result := l.Refresh(ctx)
			if !result.Success {
				l.logger.Warn("route discovery refresh completed with errors", slog.Any("errors", result.Errors))
			}
			if n := l.limiter.Sweep(); n > 0 {
				l.logger.Debug("swept idle rate-limit clients", slog.Int("count", n))
			}
			if l.metrics != nil {
				l.metrics.SetTrackedClients(l.limiter.TrackedClients())
			}
		case <-statsTicker.C:
			l.refreshBreakerStats()
		}
	}
}

// Refresh runs one discovery pass immediately: re-discovers routes from
// every auto-discover upstream, merges in the configured overrides ahead of
// the discovered set, deduplicates, and atomically installs the result.
// Callers include both the ticker and the admin refresh-routes endpoint.
func (l *Loop) Refresh(ctx context.Context) RefreshResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	discovered := l.discoverer.Round(ctx, l.services, l.dial, l.reflect)

	merged := make([]domain.RouteEntry, 0, len(l.overrides)+len(discovered))
	merged = append(merged, l.overrides...)
	merged = append(merged, discovered...)

	build := routetable.BuildTable(merged, l.dedupMode)

	var errs []string
	for _, d := range build.Dropped {
		errs = append(errs, "dropped duplicate route "+d.Key+" for upstream "+d.Entry.Upstream)
	}

	if build.Rejected {
		l.logger.Error("route table rebuild rejected: duplicate route under strict dedup")
		return RefreshResult{
			Success:          false,
			RoutesDiscovered: len(discovered),
			ServicesQueried:  len(l.services),
			Errors:           append(errs, "route table rejected: duplicate route under strict dedup"),
		}
	}

	l.routes.Store(build.Table)
	l.logger.Info("route table refreshed", slog.Int("routes", build.Table.Len()), slog.Int("dropped", len(build.Dropped)))

	return RefreshResult{
		Success:          true,
		RoutesDiscovered: len(discovered),
		ServicesQueried:  len(l.services),
		Errors:           errs,
	}
}

// refreshBreakerStats snapshots every created breaker's state. The
// breakers themselves transition lazily on admission (Breaker.Allow), so
// this interval exists purely to keep monitoring/metrics current, not to
// drive any state transition.
func (l *Loop) refreshBreakerStats() {
	snapshot := l.breakers.Snapshot()
	l.logger.Debug("circuit breaker stats", slog.Int("breakers", len(snapshot)))
	if l.metrics == nil {
		return
	}
	for service, state := range snapshot {
		l.metrics.SetCircuitState(service, float64(state.State))
	}
}
