// Package main wires and runs the gateway process via go.uber.org/fx.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/auth-platform/api-gateway/internal/authgate"
	"github.com/auth-platform/api-gateway/internal/circuitbreaker"
	"github.com/auth-platform/api-gateway/internal/config"
	"github.com/auth-platform/api-gateway/internal/controlloop"
	"github.com/auth-platform/api-gateway/internal/dispatcher"
	"github.com/auth-platform/api-gateway/internal/discovery"
	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/auth-platform/api-gateway/internal/eventbus"
	"github.com/auth-platform/api-gateway/internal/infrastructure/observability"
	presentationgrpc "github.com/auth-platform/api-gateway/internal/presentation/grpc"
	presentationhttp "github.com/auth-platform/api-gateway/internal/presentation/http"
	"github.com/auth-platform/api-gateway/internal/persistence"
	"github.com/auth-platform/api-gateway/internal/pool"
	"github.com/auth-platform/api-gateway/internal/ratelimit"
	"github.com/auth-platform/api-gateway/internal/routetable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

const authUpstreamName = "auth-service"

func main() {
	app := fx.New(
		fx.Provide(
			config.Load,
			NewLogger,
			NewEventBus,
			NewMetricsRecorder,
			NewDiscoveryMetrics,
			NewStateStore,
			NewPool,
			NewRateLimiter,
			NewCircuitBreakerRegistry,
			NewAuthGate,
			NewDispatcher,
			NewDiscoverer,
			NewRouteSnapshot,
			NewControlLoop,
			NewHTTPRouter,
			NewHTTPServer,
		),
		fx.Invoke(
			SetupObservability,
			RegisterEventSinks,
			RegisterControlLoop,
			RegisterHTTPServer,
			RegisterGRPCHealthServer,
		),
	)
	app.Run()
}

// NewLogger builds the structured logger used throughout the process, in
// cfg.Logging.Format (json or text) at cfg.Logging.Level.
func NewLogger(cfg *config.GatewayConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewEventBus is the single domain.EventEmitter every component's
// EventBuilder is built against; RegisterEventSinks fans its events out to
// the OTel metrics emitter and the structured logger.
func NewEventBus(logger *slog.Logger) *eventbus.Bus {
	return eventbus.New(logger, 1024)
}

// NewMetricsRecorder registers the gateway's Prometheus collectors against
// the default registry, the same one promhttp.Handler() in the HTTP router
// serves from.
func NewMetricsRecorder() *observability.MetricsRecorder {
	return observability.NewMetricsRecorder(prometheus.DefaultRegisterer)
}

// NewDiscoveryMetrics is the discovery package's own narrower Prometheus
// collector set, kept separate from MetricsRecorder since discovery runs on
// its own refresh cadence rather than per-request.
func NewDiscoveryMetrics() *discovery.Metrics {
	return discovery.NewMetrics(prometheus.DefaultRegisterer)
}

// NewStateStore builds the optional Redis-backed circuit breaker state
// store. With Persistence.Enabled false (the documented default) it returns
// a nil *persistence.RedisStateStore, which every caller below treats as
// "no persistence" rather than a special case.
func NewStateStore(cfg *config.GatewayConfig, logger *slog.Logger) (*persistence.RedisStateStore, error) {
	if !cfg.Persistence.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return persistence.NewRedisStateStore(ctx, cfg.Persistence, logger)
}

// NewPool builds the shared upstream connection pool, registering every
// configured service plus the auth service itself (so auth RPCs reuse the
// same dial/TLS/keepalive machinery as any other upstream).
func NewPool(cfg *config.GatewayConfig, logger *slog.Logger) *pool.Pool {
	p := pool.New(logger)
	for name, svc := range cfg.Services {
		p.Register(pool.Upstream{
			Name:       name,
			Address:    svc.Address,
			TLSEnabled: svc.TLS,
			ServerName: svc.ServerName,
			CAFile:     svc.CAFile,
		})
	}
	p.Register(pool.Upstream{
		Name:       authUpstreamName,
		Address:    cfg.Auth.ServiceAddress,
		TLSEnabled: cfg.Auth.TLS,
	})
	return p
}

// NewRateLimiter builds the per-client sliding-window limiter, emitting
// domain.EventRateLimitHit through the shared event bus.
func NewRateLimiter(cfg *config.GatewayConfig, bus *eventbus.Bus) *ratelimit.Limiter {
	rlCfg := domain.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		Window:            cfg.RateLimit.Window,
		MaxTrackedClients: cfg.RateLimit.MaxTrackedClients,
		ExcludedPaths:     cfg.RateLimit.ExcludedPaths,
	}
	return ratelimit.New(ratelimit.Config{
		RateLimit:    rlCfg,
		EventBuilder: domain.NewEventBuilder(bus, "rate-limiter"),
	})
}

// NewCircuitBreakerRegistry builds the per-upstream breaker registry,
// seeded from each service's configured thresholds (falling back to
// domain.DefaultCircuitBreakerConfig() for any field left at zero) and
// wired to store, when persistence is enabled.
func NewCircuitBreakerRegistry(cfg *config.GatewayConfig, bus *eventbus.Bus, store *persistence.RedisStateStore) *circuitbreaker.Registry {
	defaults := make(map[string]domain.CircuitBreakerConfig, len(cfg.Services))
	fallback := domain.DefaultCircuitBreakerConfig()
	for name, svc := range cfg.Services {
		bc := fallback
		if svc.FailureThreshold > 0 {
			bc.FailureThreshold = svc.FailureThreshold
		}
		if svc.SuccessThreshold > 0 {
			bc.SuccessThreshold = svc.SuccessThreshold
		}
		if svc.BreakerTimeout > 0 {
			bc.Timeout = svc.BreakerTimeout
		}
		defaults[name] = bc
	}

	var stateStore circuitbreaker.StateStore
	if store != nil {
		stateStore = store
	}
	return circuitbreaker.NewRegistry(defaults, domain.NewEventBuilder(bus, "circuit-breaker"), stateStore)
}

// NewAuthGate builds the post-routing auth gate against the auth service's
// channel in the shared pool.
func NewAuthGate(cfg *config.GatewayConfig, p *pool.Pool, logger *slog.Logger) (*authgate.Gate, error) {
	conn, err := p.Get(context.Background(), authUpstreamName)
	if err != nil {
		return nil, fmt.Errorf("dial auth service: %w", err)
	}
	return authgate.New(conn, logger, authgate.WithRequestTimeout(cfg.Auth.RequestTimeout)), nil
}

// NewRouteSnapshot is the live route table every dispatch reads and every
// control loop refresh swaps.
func NewRouteSnapshot() *routetable.Snapshot {
	return routetable.NewSnapshot()
}

// NewDiscoverer wires the reflection-based discoverer with its metrics.
func NewDiscoverer(logger *slog.Logger, metrics *discovery.Metrics) *discovery.Discoverer {
	return discovery.NewDiscoverer(logger, metrics)
}

// NewDispatcher builds the catch-all request handler: the whole
// rate-limit/route/auth/breaker/call pipeline.
func NewDispatcher(
	cfg *config.GatewayConfig,
	routes *routetable.Snapshot,
	limiter *ratelimit.Limiter,
	gate *authgate.Gate,
	breakers *circuitbreaker.Registry,
	p *pool.Pool,
	metrics *observability.MetricsRecorder,
	logger *slog.Logger,
) *dispatcher.Dispatcher {
	serviceTimeouts := make(map[string]time.Duration, len(cfg.Services))
	for name, svc := range cfg.Services {
		if svc.Timeout > 0 {
			serviceTimeouts[name] = svc.Timeout
		}
	}

	requestTimeout := cfg.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = dispatcher.DefaultRequestTimeout
	}

	return dispatcher.New(dispatcher.Config{
		Routes:          routes,
		Limiter:         limiter,
		Gate:            gate,
		Breakers:        breakers,
		Pool:            p,
		Metrics:         metrics,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		RequestTimeout:  requestTimeout,
		ServiceTimeouts: serviceTimeouts,
		TrustedProxies:  dispatcher.NewTrustedProxies(cfg.Server.TrustedProxies),
		Logger:          logger,
	})
}

// NewControlLoop builds the background discovery/stats/eviction loop.
func NewControlLoop(
	cfg *config.GatewayConfig,
	discoverer *discovery.Discoverer,
	p *pool.Pool,
	routes *routetable.Snapshot,
	limiter *ratelimit.Limiter,
	breakers *circuitbreaker.Registry,
	metrics *observability.MetricsRecorder,
	logger *slog.Logger,
) *controlloop.Loop {
	reflector := discovery.NewReflector()
	return controlloop.New(controlloop.Config{
		Discoverer:      discoverer,
		Dial:            p,
		Reflect:         reflector.Discover,
		Services:        cfg.Services,
		Overrides:       cfg.RouteOverrides,
		StrictDedup:     cfg.Discovery.StrictDedup,
		Routes:          routes,
		Limiter:         limiter,
		Breakers:        breakers,
		Metrics:         metrics,
		RefreshInterval: cfg.Discovery.RefreshInterval,
		StatsInterval:   cfg.Discovery.BreakerStatsInterval,
		Logger:          logger,
	})
}

// NewHTTPRouter assembles the fixed admin/health/metrics/docs surface ahead
// of the dispatcher catch-all.
func NewHTTPRouter(cfg *config.GatewayConfig, d *dispatcher.Dispatcher, p *pool.Pool, routes *routetable.Snapshot, loop *controlloop.Loop) http.Handler {
	return presentationhttp.NewRouter(presentationhttp.RouterConfig{
		Dispatcher:  d,
		Pool:        p,
		Routes:      routes,
		ControlLoop: loop,
		MetricsPath: cfg.Observability.MetricsPath,
		AdminToken:  cfg.Auth.AdminToken,
		ReadTimeout: cfg.Server.ReadTimeout,
	})
}

// NewHTTPServer wraps the router in an *http.Server sized from ServerConfig.
func NewHTTPServer(cfg *config.GatewayConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// SetupObservability starts OpenTelemetry export for the process lifetime.
func SetupObservability(lc fx.Lifecycle, cfg *config.GatewayConfig, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			cleanup, err := observability.Setup(ctx, cfg.Observability, logger)
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{OnStop: func(context.Context) error {
				cleanup()
				return nil
			}})
			return nil
		},
	})
}

// RegisterEventSinks fans every GatewayEvent out to the OTel metrics emitter
// and a structured-log sink. The OTel emitter is built from the meter
// inside an OnStart hook, appended after SetupObservability's, so it reads
// the real meter provider rather than the pre-Setup default.
func RegisterEventSinks(lc fx.Lifecycle, bus *eventbus.Bus, logger *slog.Logger) {
	bus.Subscribe(func(event domain.GatewayEvent) {
		logger.Info("gateway event", slog.String("type", string(event.Type)), slog.String("trace_id", event.TraceID), slog.Any("metadata", event.Metadata))
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			meter := observability.GetMeter()
			otelEmitter, err := observability.NewOTelEmitter(meter, logger)
			if err != nil {
				return fmt.Errorf("build otel event emitter: %w", err)
			}
			bus.Subscribe(otelEmitter.Emit)
			return nil
		},
	})
}

// RegisterControlLoop runs one synchronous discovery pass before accepting
// traffic, then starts the loop's background ticking for the process
// lifetime.
func RegisterControlLoop(lc fx.Lifecycle, loop *controlloop.Loop, logger *slog.Logger) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			result := loop.Refresh(ctx)
			if !result.Success {
				logger.Warn("initial route discovery completed with errors", slog.Any("errors", result.Errors))
			}

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			go loop.Run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

// RegisterHTTPServer starts the HTTP listener on OnStart and drains it
// within Server.ShutdownTimeout on OnStop.
func RegisterHTTPServer(lc fx.Lifecycle, cfg *config.GatewayConfig, server *http.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server error", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	})
}

// RegisterGRPCHealthServer starts the gateway's own gRPC health surface
// when cfg.Server.GRPCHealthPort is nonzero; left at 0 (the default), this
// is a no-op and the gateway exposes health only over HTTP.
func RegisterGRPCHealthServer(lc fx.Lifecycle, cfg *config.GatewayConfig, p *pool.Pool, logger *slog.Logger) error {
	if cfg.Server.GRPCHealthPort <= 0 {
		return nil
	}

	server, err := presentationgrpc.NewServer(presentationgrpc.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.GRPCHealthPort,
		MaxRecvMsgSize: cfg.Server.MaxRecvMsgSize,
		MaxSendMsgSize: cfg.Server.MaxSendMsgSize,
		Pool:           p,
		Tracer:         observability.GetTracer(),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("build grpc health server: %w", err)
	}
	presentationgrpc.Register(lc, server)
	return nil
}
