// Package authgate implements the gateway's post-routing authorization
// check: policy lookup, bearer token validation, and role intersection.
package authgate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/auth-platform/api-gateway/internal/policycache"
	"github.com/auth-platform/api-gateway/internal/rawrpc"
	"github.com/auth-platform/api-gateway/internal/timeout"
	"google.golang.org/grpc"
)

// validateTokenRequest/Response and getAuthPolicyRequest/Response model the
// auth service's wire contract: two unary RPCs, JSON request/response
// bodies, invoked with no compiled stub (see rawrpc).
type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenResponse struct {
	Valid     bool     `json:"valid"`
	UserID    string   `json:"user_id"`
	Roles     []string `json:"roles"`
	ExpiresAt int64    `json:"expires_at_unix"`
	Error     string   `json:"error"`
}

type getAuthPolicyRequest struct {
	GRPCMethod string `json:"grpc_method"`
}

type getAuthPolicyResponse struct {
	RequireAuth     bool     `json:"require_auth"`
	RequiredRoles   []string `json:"required_roles"`
	CacheTTLSeconds int64    `json:"cache_ttl_seconds"`
}

const (
	validateTokenMethod = "/auth.AuthService/ValidateToken"
	getAuthPolicyMethod = "/auth.AuthService/GetAuthPolicy"
)

// Gate authorizes a routed request: it resolves the method's policy from
// the cache, and if auth is required, validates the caller's bearer token
// and checks role membership against the policy.
type Gate struct {
	authConn *grpc.ClientConn
	cache    *policycache.Cache
	logger   *slog.Logger
	tm       *timeout.Manager
}

// Option configures optional Gate behavior.
type Option func(*Gate)

// WithRequestTimeout bounds every auth-service RPC (GetAuthPolicy,
// ValidateToken) to d, independent of whatever deadline the caller's ctx
// already carries. Each call has a single return path, so a
// timeout.Manager here can't race a second writer the way it would atop an
// http.ResponseWriter.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d <= 0 {
			return
		}
		g.tm = timeout.New(timeout.Config{ServiceName: "auth-service", Config: domain.TimeoutConfig{Default: d}})
	}
}

// New constructs a Gate backed by authConn, the long-lived channel to the
// auth service. The policy cache's fetcher calls GetAuthPolicy over the
// same channel.
func New(authConn *grpc.ClientConn, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{authConn: authConn, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	g.cache = policycache.New(g.fetchPolicy, logger)
	return g
}

func (g *Gate) fetchPolicy(ctx context.Context, grpcMethod string) (domain.AuthorizationPolicy, error) {
	reqBytes, err := json.Marshal(getAuthPolicyRequest{GRPCMethod: grpcMethod})
	if err != nil {
		return domain.AuthorizationPolicy{}, fmt.Errorf("marshal GetAuthPolicy request: %w", err)
	}

	var respBytes []byte
	call := func(callCtx context.Context) error {
		b, err := rawrpc.Invoke(callCtx, g.authConn, getAuthPolicyMethod, reqBytes)
		respBytes = b
		return err
	}
	if g.tm != nil {
		err = g.tm.Execute(ctx, "get_auth_policy", call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.AuthorizationPolicy{}, fmt.Errorf("GetAuthPolicy: %w", err)
	}

	var resp getAuthPolicyResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return domain.AuthorizationPolicy{}, fmt.Errorf("unmarshal GetAuthPolicy response: %w", err)
	}
	return domain.AuthorizationPolicy{
		RequiresAuth:  resp.RequireAuth,
		RequiredRoles: resp.RequiredRoles,
		FetchedAt:     time.Now(),
	}, nil
}

func (g *Gate) validateToken(ctx context.Context, token string) (domain.TokenClaims, error) {
	reqBytes, err := json.Marshal(validateTokenRequest{Token: token})
	if err != nil {
		return domain.TokenClaims{}, fmt.Errorf("marshal ValidateToken request: %w", err)
	}

	var respBytes []byte
	call := func(callCtx context.Context) error {
		b, err := rawrpc.Invoke(callCtx, g.authConn, validateTokenMethod, reqBytes)
		respBytes = b
		return err
	}
	if g.tm != nil {
		err = g.tm.Execute(ctx, "validate_token", call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.TokenClaims{}, domain.NewGatewayError(domain.ErrAuthServiceUnavailable, "auth service unreachable").WithCause(err)
	}

	var resp validateTokenResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return domain.TokenClaims{}, domain.NewGatewayError(domain.ErrAuthServiceUnavailable, "malformed ValidateToken response").WithCause(err)
	}
	if !resp.Valid {
		return domain.TokenClaims{}, domain.NewGatewayError(domain.ErrInvalidToken, resp.Error)
	}
	claims := domain.TokenClaims{Subject: resp.UserID, Roles: resp.Roles}
	if resp.ExpiresAt != 0 {
		claims.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	}
	return claims, nil
}

// Decision is what the gate returns for an admitted request: the
// outgoing-metadata pairs the dispatcher must attach to the upstream call.
// A denied request gets an error from Authorize instead.
type Decision struct {
	Metadata map[string]string
}

// Authorize runs the auth gate for one routed request: policy lookup, then
// (if required) token extraction, validation, and role intersection.
func (g *Gate) Authorize(ctx context.Context, r *http.Request, service, grpcMethod string) (Decision, error) {
	policy, err := g.cache.Get(ctx, service, grpcMethod)
	if err != nil {
		return Decision{}, domain.NewGatewayError(domain.ErrAuthServiceUnavailable, "policy lookup failed").WithService(service).WithCause(err)
	}

	if !policy.RequiresAuth {
		return Decision{}, nil
	}

	token, ok := ExtractToken(r)
	if !ok {
		return Decision{}, domain.NewGatewayError(domain.ErrMissingToken, "missing bearer token").WithService(service)
	}

	claims, err := g.validateToken(ctx, token)
	if err != nil {
		return Decision{}, err
	}

	if time.Now().After(claims.ExpiresAt) && !claims.ExpiresAt.IsZero() {
		return Decision{}, domain.NewGatewayError(domain.ErrExpiredToken, "token has expired").WithService(service)
	}

	if !claims.HasAnyRole(policy.RequiredRoles) {
		return Decision{}, domain.NewGatewayError(domain.ErrInsufficientPerms, "caller lacks any required role").
			WithService(service).
			WithMetadata("required_roles", policy.RequiredRoles)
	}

	return Decision{Metadata: map[string]string{
		"_auth_user_id": claims.Subject,
		"_auth_roles":   joinRoles(claims.Roles),
	}}, nil
}

func joinRoles(roles []string) string {
	out := ""
	for i, r := range roles {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}
