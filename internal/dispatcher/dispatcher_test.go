package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/auth-platform/api-gateway/internal/authgate"
	"github.com/auth-platform/api-gateway/internal/circuitbreaker"
	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/auth-platform/api-gateway/internal/pool"
	"github.com/auth-platform/api-gateway/internal/ratelimit"
	"github.com/auth-platform/api-gateway/internal/rawrpc"
	"github.com/auth-platform/api-gateway/internal/routetable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUpstream serves one gRPC method ("GetUser") over a real TCP
// listener, since pool.Pool dials real addresses rather than accepting a
// bufconn-style custom dialer.
type fakeUpstream struct {
	calls   int32
	respond func(callNum int32, reqBytes []byte) ([]byte, error)
}

func (f *fakeUpstream) start(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.ForceServerCodec(rawrpc.Codec{}))
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "user.UserService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetUser", Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				var req rawrpc.Bytes
				if err := dec(&req); err != nil {
					return nil, err
				}
				n := atomic.AddInt32(&f.calls, 1)
				resp, err := f.respond(n, req)
				if err != nil {
					return nil, err
				}
				return rawrpc.Bytes(resp), nil
			}},
		},
	}, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

// fakeAuth serves ValidateToken/GetAuthPolicy over bufconn, mirroring
// authgate's own test fixture.
type fakeAuth struct {
	policies map[string]authgatePolicy
	tokens   map[string]authgateToken
}

type authgatePolicy struct {
	RequireAuth   bool     `json:"require_auth"`
	RequiredRoles []string `json:"required_roles"`
}

type authgateToken struct {
	Valid  bool     `json:"valid"`
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Error  string   `json:"error"`
}

func (f *fakeAuth) dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(grpc.ForceServerCodec(rawrpc.Codec{}))
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "auth.AuthService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "ValidateToken", Handler: f.handleValidateToken},
			{MethodName: "GetAuthPolicy", Handler: f.handleGetAuthPolicy},
		},
	}, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fakeAuth) handleValidateToken(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req rawrpc.Bytes
	if err := dec(&req); err != nil {
		return nil, err
	}
	var in struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(req, &in)
	resp, ok := f.tokens[in.Token]
	if !ok {
		resp = authgateToken{Valid: false, Error: "unknown token"}
	}
	out, _ := json.Marshal(resp)
	return rawrpc.Bytes(out), nil
}

func (f *fakeAuth) handleGetAuthPolicy(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req rawrpc.Bytes
	if err := dec(&req); err != nil {
		return nil, err
	}
	var in struct {
		GRPCMethod string `json:"grpc_method"`
	}
	_ = json.Unmarshal(req, &in)
	resp, ok := f.policies[in.GRPCMethod]
	if !ok {
		resp = authgatePolicy{RequireAuth: true}
	}
	out, _ := json.Marshal(resp)
	return rawrpc.Bytes(out), nil
}

// harness wires a Dispatcher against one fake upstream ("user-service",
// method user.UserService/GetUser routed as GET /api/users/:id) and one
// fake auth service.
type harness struct {
	dispatcher *Dispatcher
	breakers   *circuitbreaker.Registry
	upstream   *fakeUpstream
}

func newHarness(t *testing.T, auth *fakeAuth, upstream *fakeUpstream, breakerCfg map[string]domain.CircuitBreakerConfig, rateLimit domain.RateLimitConfig) *harness {
	t.Helper()

	pattern := routetable.ParsePattern("/api/users/:id", "GET")
	entry := domain.RouteEntry{
		Upstream: "user-service",
		Pattern:  pattern,
		Method:   domain.MethodDescriptor{Service: "user.UserService", Method: "GetUser"},
	}
	result := routetable.BuildTable([]domain.RouteEntry{entry}, routetable.DedupLenient)
	require.NotNil(t, result.Table)
	snap := routetable.NewSnapshot()
	snap.Store(result.Table)

	limiter := ratelimit.New(ratelimit.Config{RateLimit: rateLimit})

	gate := authgate.New(auth.dial(t), discardLogger())

	breakers := circuitbreaker.NewRegistry(breakerCfg, nil, nil)

	p := pool.New(discardLogger())
	p.Register(pool.Upstream{Name: "user-service", Address: upstream.start(t)})
	t.Cleanup(func() { p.Close() })

	d := New(Config{
		Routes:         snap,
		Limiter:        limiter,
		Gate:           gate,
		Breakers:       breakers,
		Pool:           p,
		MaxBodyBytes:   1024 * 1024,
		RequestTimeout: 2 * time.Second,
		Logger:         discardLogger(),
	})

	return &harness{dispatcher: d, breakers: breakers, upstream: upstream}
}

func defaultRateLimit() domain.RateLimitConfig {
	return domain.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, MaxTrackedClients: 1000}
}

func TestDispatcher_HappyPathGetReturns200WithUpstreamPayload(t *testing.T) {
	auth := &fakeAuth{
		policies: map[string]authgatePolicy{"/user.UserService/GetUser": {RequireAuth: true}},
		tokens:   map[string]authgateToken{"tok-ok": {Valid: true, UserID: "u1", Roles: []string{"user"}}},
	}
	upstream := &fakeUpstream{respond: func(n int32, req []byte) ([]byte, error) {
		return []byte(`{"id":"42","name":"Ada"}`), nil
	}}
	h := newHarness(t, auth, upstream, nil, defaultRateLimit())

	r := httptest.NewRequest("GET", "/api/users/42", nil)
	r.Header.Set("Authorization", "Bearer tok-ok")
	w := httptest.NewRecorder()

	h.dispatcher.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"42","name":"Ada"}`, w.Body.String())
}

func TestDispatcher_UnknownRouteReturns404(t *testing.T) {
	auth := &fakeAuth{}
	upstream := &fakeUpstream{respond: func(n int32, req []byte) ([]byte, error) { return nil, nil }}
	h := newHarness(t, auth, upstream, nil, defaultRateLimit())

	r := httptest.NewRequest("DELETE", "/api/unknown/9", nil)
	w := httptest.NewRecorder()

	h.dispatcher.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ROUTE_NOT_FOUND", body.Error.Code)
}

func TestDispatcher_RateLimitExceededReturns429(t *testing.T) {
	auth := &fakeAuth{
		policies: map[string]authgatePolicy{"/user.UserService/GetUser": {RequireAuth: false}},
	}
	upstream := &fakeUpstream{respond: func(n int32, req []byte) ([]byte, error) { return []byte(`{}`), nil }}
	h := newHarness(t, auth, upstream, nil, domain.RateLimitConfig{RequestsPerWindow: 3, Window: time.Minute, MaxTrackedClients: 100})

	var codes []int
	for i := 0; i < 4; i++ {
		r := httptest.NewRequest("GET", "/api/users/42", nil)
		r.RemoteAddr = "1.2.3.4:5555"
		w := httptest.NewRecorder()
		h.dispatcher.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 200, 200, 429}, codes)
}

func TestDispatcher_AuthDeniedReturns403WhenRoleMissing(t *testing.T) {
	auth := &fakeAuth{
		policies: map[string]authgatePolicy{"/user.UserService/GetUser": {RequireAuth: true, RequiredRoles: []string{"admin"}}},
		tokens:   map[string]authgateToken{"tok-user": {Valid: true, UserID: "u1", Roles: []string{"user"}}},
	}
	upstream := &fakeUpstream{respond: func(n int32, req []byte) ([]byte, error) { return []byte(`{}`), nil }}
	h := newHarness(t, auth, upstream, nil, defaultRateLimit())

	r := httptest.NewRequest("GET", "/api/users/42", nil)
	r.Header.Set("Authorization", "Bearer tok-user")
	w := httptest.NewRecorder()

	h.dispatcher.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", body.Error.Code)
}

func TestDispatcher_CircuitOpensAfterFailureThresholdAndRejectsWithoutCallingUpstream(t *testing.T) {
	auth := &fakeAuth{
		policies: map[string]authgatePolicy{"/user.UserService/GetUser": {RequireAuth: false}},
	}
	upstream := &fakeUpstream{respond: func(n int32, req []byte) ([]byte, error) {
		return nil, status.Error(codes.Unavailable, "down")
	}}
	h := newHarness(t, auth, upstream, map[string]domain.CircuitBreakerConfig{
		"user-service": {FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour},
	}, defaultRateLimit())

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest("GET", "/api/users/42", nil)
		w := httptest.NewRecorder()
		h.dispatcher.ServeHTTP(w, r)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	}

	callsBefore := atomic.LoadInt32(&upstream.calls)

	r := httptest.NewRequest("GET", "/api/users/42", nil)
	w := httptest.NewRecorder()
	h.dispatcher.ServeHTTP(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, callsBefore, atomic.LoadInt32(&upstream.calls), "breaker must reject without reaching the upstream")

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
}

func TestDispatcher_GatewayTimeoutSkipsBreakerRecording(t *testing.T) {
	auth := &fakeAuth{
		policies: map[string]authgatePolicy{"/user.UserService/GetUser": {RequireAuth: false}},
	}
	var callCount int32
	upstream := &fakeUpstream{respond: func(n int32, req []byte) ([]byte, error) {
		atomic.AddInt32(&callCount, 1)
		time.Sleep(2 * time.Second)
		return []byte(`{}`), nil
	}}

	pattern := routetable.ParsePattern("/api/users/:id", "GET")
	entry := domain.RouteEntry{
		Upstream: "user-service",
		Pattern:  pattern,
		Method:   domain.MethodDescriptor{Service: "user.UserService", Method: "GetUser"},
	}
	result := routetable.BuildTable([]domain.RouteEntry{entry}, routetable.DedupLenient)
	snap := routetable.NewSnapshot()
	snap.Store(result.Table)

	limiter := ratelimit.New(ratelimit.Config{RateLimit: defaultRateLimit()})
	gate := authgate.New(auth.dial(t), discardLogger())
	breakers := circuitbreaker.NewRegistry(nil, nil, nil)

	p := pool.New(discardLogger())
	p.Register(pool.Upstream{Name: "user-service", Address: upstream.start(t)})
	t.Cleanup(func() { p.Close() })

	d := New(Config{
		Routes:         snap,
		Limiter:        limiter,
		Gate:           gate,
		Breakers:       breakers,
		Pool:           p,
		MaxBodyBytes:   1024 * 1024,
		RequestTimeout: 200 * time.Millisecond,
		Logger:         discardLogger(),
	})

	start := time.Now()
	r := httptest.NewRequest("GET", "/api/users/42", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Less(t, elapsed, 1*time.Second)
	assert.Equal(t, domain.StateClosed, breakers.Get("user-service").GetState())
}

func TestDispatcher_MergesPathParamsIntoUpstreamRequestBody(t *testing.T) {
	auth := &fakeAuth{
		policies: map[string]authgatePolicy{"/user.UserService/GetUser": {RequireAuth: false}},
	}
	var received []byte
	var mu sync.Mutex
	upstream := &fakeUpstream{respond: func(n int32, req []byte) ([]byte, error) {
		mu.Lock()
		received = append([]byte(nil), req...)
		mu.Unlock()
		return []byte(`{"ok":true}`), nil
	}}
	h := newHarness(t, auth, upstream, nil, defaultRateLimit())

	r := httptest.NewRequest("GET", "/api/users/42", nil)
	w := httptest.NewRecorder()
	h.dispatcher.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"id":"42"}`, string(received))
}
