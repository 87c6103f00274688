// Package http assembles the gateway's HTTP presentation layer: a chi
// router mounting the fixed admin/health/metrics/docs surface ahead of a
// catch-all that hands everything else to the dispatcher, since the
// upstream route table is dynamic and can't be expressed as static chi
// routes.
package http

import (
	"net/http"
	"time"

	"github.com/auth-platform/api-gateway/internal/controlloop"
	"github.com/auth-platform/api-gateway/internal/pool"
	"github.com/auth-platform/api-gateway/internal/routetable"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the dependencies NewRouter needs to mount the fixed
// surface and delegate everything else to Dispatcher.
type RouterConfig struct {
	Dispatcher http.Handler
	Pool       *pool.Pool
	Routes     *routetable.Snapshot
	ControlLoop *controlloop.Loop

	MetricsPath string
	AdminToken  string

	ReadTimeout time.Duration
}

// NewRouter builds the gateway's top-level http.Handler. Fixed routes
// (health, metrics, admin, docs) are resolved by chi before the dispatcher
// ever sees the request, matching the fast-path bypass: system paths never
// enter the rate-limit/auth/breaker pipeline.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	if cfg.ReadTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.ReadTimeout))
	}

	health := newHealthHandler(cfg.Pool)
	r.Get("/health", health.liveness)
	r.Get("/health/live", health.liveness)
	r.Get("/health/liveness", health.liveness)
	r.Get("/health/ready", health.readiness)
	r.Get("/health/readiness", health.readiness)
	r.Get("/api/health", health.liveness)

	if cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	admin := newAdminHandler(cfg.ControlLoop, cfg.AdminToken)
	r.Post("/admin/refresh-routes", admin.refreshRoutes)

	docs := newDocsHandler(cfg.Routes)
	r.Get("/docs", docs.index)

	// Everything else is a proxied route resolved dynamically against the
	// live snapshot; the dispatcher re-derives its own routing decision
	// per request rather than chi matching it statically.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		cfg.Dispatcher.ServeHTTP(w, req)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		cfg.Dispatcher.ServeHTTP(w, req)
	})

	return r
}
