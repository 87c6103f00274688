// Package dispatcher orchestrates one HTTP request through the full
// pipeline: rate limit, route match, auth gate, circuit breaker admission,
// HTTP-to-gRPC conversion, pooled upstream call with retry, and conversion
// of the result back to an HTTP response.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/auth-platform/api-gateway/internal/authgate"
	"github.com/auth-platform/api-gateway/internal/circuitbreaker"
	"github.com/auth-platform/api-gateway/internal/converter"
	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/auth-platform/api-gateway/internal/pool"
	"github.com/auth-platform/api-gateway/internal/ratelimit"
	"github.com/auth-platform/api-gateway/internal/rawrpc"
	"github.com/auth-platform/api-gateway/internal/retry"
	"github.com/auth-platform/api-gateway/internal/routetable"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultRequestTimeout is the overall deadline wrapping steps 3-9 of the
// pipeline when no per-request override applies.
const DefaultRequestTimeout = 30 * time.Second

// MetricsRecorder is the subset of observability.MetricsRecorder the
// dispatcher depends on, so it can be wired with a no-op in tests.
type MetricsRecorder interface {
	RecordRequest(service, httpMethod, statusClass string, duration time.Duration)
	RecordGRPCCall(service, grpcMethod, code string)
	RecordRateLimitExceeded(service string)
}

// Config holds Dispatcher construction options.
type Config struct {
	Routes          *routetable.Snapshot
	Limiter         *ratelimit.Limiter
	Gate            *authgate.Gate
	Breakers        *circuitbreaker.Registry
	Pool            *pool.Pool
	Metrics         MetricsRecorder
	MaxBodyBytes    int64
	RequestTimeout  time.Duration
	ServiceTimeouts map[string]time.Duration // per-upstream call timeout; 0 means "use the overall deadline"
	TrustedProxies  *TrustedProxies
	Logger          *slog.Logger
}

// Dispatcher is the catch-all http.Handler for every route not served by a
// fixed system endpoint (health/metrics/admin/docs).
type Dispatcher struct {
	routes          *routetable.Snapshot
	limiter         *ratelimit.Limiter
	gate            *authgate.Gate
	breakers        *circuitbreaker.Registry
	pool            *pool.Pool
	metrics         MetricsRecorder
	maxBodyBytes    int64
	requestTimeout  time.Duration
	serviceTimeouts map[string]time.Duration
	trustedProxies  *TrustedProxies
	logger          *slog.Logger
}

// New constructs a Dispatcher from cfg, applying defaults for zero values.
func New(cfg Config) *Dispatcher {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		routes:          cfg.Routes,
		limiter:         cfg.Limiter,
		gate:            cfg.Gate,
		breakers:        cfg.Breakers,
		pool:            cfg.Pool,
		metrics:         cfg.Metrics,
		maxBodyBytes:    cfg.MaxBodyBytes,
		requestTimeout:  timeout,
		serviceTimeouts: cfg.ServiceTimeouts,
		trustedProxies:  cfg.TrustedProxies,
		logger:          logger,
	}
}

// ServeHTTP implements http.Handler. It is steps 2-9 of the per-request
// orchestration; steps served locally (health/metrics/admin/docs) are
// expected to be mounted ahead of this handler by the presentation layer,
// so they never reach it. The overall deadline (steps 3-9) is a single
// context.WithTimeout wrapping the whole body, so there is exactly one
// path that decides what gets written to w.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	traceCtx := resolveTraceContext(r)
	clientIP := ClientIP(r, d.trustedProxies)

	ctx, cancel := context.WithTimeout(r.Context(), d.requestTimeout)
	defer cancel()

	if !d.limiter.IsExcluded(r.URL.Path) {
		rdecision, err := d.limiter.Allow(ctx, clientIP)
		if err != nil {
			writeError(w, traceCtx.TraceID, domain.NewGatewayError(domain.ErrInternal, "rate limiter failure").WithCause(err))
			return
		}
		setRateLimitHeaders(w, rdecision)
		if !rdecision.Allowed {
			if d.metrics != nil {
				d.metrics.RecordRateLimitExceeded("")
			}
			writeError(w, traceCtx.TraceID, domain.NewRateLimitExceededError(clientIP))
			return
		}
	}

	table := d.routes.Load()
	routeDecision, err := table.Match(r.Method, r.URL.Path)
	if err != nil {
		d.recordRequest("", r.Method, start)
		writeError(w, traceCtx.TraceID, err)
		return
	}
	upstream := routeDecision.Upstream

	authDecision, err := d.gate.Authorize(ctx, r, upstream, routeDecision.GRPCMethod)
	if err != nil {
		d.recordRequest(upstream, r.Method, start)
		writeError(w, traceCtx.TraceID, err)
		return
	}

	breaker := d.breakers.Get(upstream)
	if !breaker.Allow() {
		d.recordRequest(upstream, r.Method, start)
		writeError(w, traceCtx.TraceID, domain.NewGatewayError(domain.ErrServiceUnavailable, "circuit breaker is open").WithService(upstream))
		return
	}

	payload, md, err := converter.HTTPToGRPC(r, routeDecision.PathParams, authDecision.Metadata, d.maxBodyBytes)
	if err != nil {
		d.recordRequest(upstream, r.Method, start)
		writeError(w, traceCtx.TraceID, err)
		return
	}
	injectTrace(md, traceCtx)

	conn, err := d.pool.Get(ctx, upstream)
	if err != nil {
		d.recordRequest(upstream, r.Method, start)
		writeError(w, traceCtx.TraceID, domain.NewGatewayError(domain.ErrServiceUnavailable, "upstream unreachable").WithService(upstream).WithCause(err))
		return
	}

	respPayload, respMD, callErr, cancelled := d.call(ctx, conn, routeDecision.GRPCMethod, payload, md, upstream)
	d.recordGRPCCall(upstream, routeDecision.GRPCMethod, callErr)

	if cancelled {
		// Client disconnected or the overall deadline expired: neither
		// outcome is attributable to the upstream, so the breaker sees
		// nothing. A deadline still gets its own 504 written here; a client
		// disconnect writes too, but nothing is listening by then.
		d.recordRequest(upstream, r.Method, start)
		if ctx.Err() != nil {
			writeError(w, traceCtx.TraceID, domain.NewTimeoutError("gateway", d.requestTimeout))
		}
		return
	}

	if callErr != nil {
		breaker.RecordFailure()
		d.recordRequest(upstream, r.Method, start)
		writeError(w, traceCtx.TraceID, mapUpstreamError(upstream, callErr))
		return
	}

	breaker.RecordSuccess()
	d.recordRequest(upstream, r.Method, start)
	converter.GRPCToHTTP(w, traceCtx.TraceID, respMD, converter.StatusToHTTP(codes.OK), respPayload)
}

// call invokes grpcMethod over conn through a retry.Handler configured with
// the pool's documented retry policy (domain.DefaultRetryConfig), retrying
// only errors pool.IsRetryable classifies as transient. It returns
// cancelled=true when ctx (the dispatcher's overall deadline, or the
// client's own disconnect) is what ended the attempt, as opposed to the
// upstream itself failing — the caller must not record a breaker outcome
// in that case. The retry sequence as a whole is what the breaker sees as
// one observation, never one observation per attempt.
func (d *Dispatcher) call(ctx context.Context, conn *grpc.ClientConn, grpcMethod string, payload []byte, md metadata.MD, upstream string) ([]byte, metadata.MD, error, bool) {
	attemptTimeout := d.serviceTimeouts[upstream]

	retryCfg := domain.DefaultRetryConfig()
	retryCfg.RetryableOn = pool.IsRetryable
	handler := retry.New(retry.Config{ServiceName: upstream, Config: retryCfg})

	var respPayload []byte
	var respMD metadata.MD
	var rawErr error

	execErr := handler.Execute(ctx, func() error {
		attemptCtx := ctx
		var cancelAttempt context.CancelFunc
		if attemptTimeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(ctx, attemptTimeout)
		}
		p, m, err := rawrpc.InvokeWithMetadata(attemptCtx, conn, grpcMethod, payload, md)
		if cancelAttempt != nil {
			cancelAttempt()
		}
		respPayload, respMD, rawErr = p, m, err
		return err
	})

	if execErr == nil {
		return respPayload, respMD, nil, false
	}

	if ctx.Err() != nil {
		// The overall deadline (or client disconnect) ended the request,
		// not the upstream call itself.
		return nil, respMD, rawErr, true
	}

	return nil, respMD, rawErr, false
}

func (d *Dispatcher) recordRequest(upstream, httpMethod string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordRequest(upstream, httpMethod, "", time.Since(start))
}

func (d *Dispatcher) recordGRPCCall(upstream, grpcMethod string, err error) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordGRPCCall(upstream, grpcMethod, status.Code(err).String())
}

// mapUpstreamError classifies a failed upstream call per the exhaustive
// gRPC-code-to-HTTP-status table (§4.7), not the pipeline's own error
// codes: a real backend response (even an error one) is reported as a
// backend error at the status the upstream actually returned. A
// retry-exhausted error is unwrapped to the last attempt's actual gRPC
// status first, so e.g. a DeadlineExceeded that survived every retry still
// maps to 504 rather than the retry wrapper's own flat 503.
func mapUpstreamError(upstream string, err error) error {
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) {
		if gerr.Code == domain.ErrRetryExhausted && gerr.Cause != nil {
			err = gerr.Cause
		} else {
			return gerr
		}
	}
	code := status.Code(err)
	return &upstreamError{
		httpStatus: converter.StatusToHTTP(code),
		service:    upstream,
		message:    err.Error(),
	}
}

func resolveTraceContext(r *http.Request) domain.TraceContext {
	if tc, ok := domain.ParseTraceparent(r.Header.Get("traceparent")); ok {
		return tc
	}
	if id := r.Header.Get("x-trace-id"); id != "" {
		return domain.TraceContext{TraceID: id}
	}
	if id := r.Header.Get("x-request-id"); id != "" {
		return domain.TraceContext{TraceID: id}
	}
	return domain.NewTraceContext()
}

func injectTrace(md metadata.MD, tc domain.TraceContext) {
	if len(md.Get("traceparent")) == 0 && tc.SpanID != "" {
		md.Set("traceparent", tc.Traceparent())
	}
	if len(md.Get("x-trace-id")) == 0 && tc.TraceID != "" {
		md.Set("x-trace-id", tc.TraceID)
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d domain.RateLimitDecision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed && d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())+1))
	}
}
