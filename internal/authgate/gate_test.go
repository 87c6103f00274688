package authgate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"testing"

	"github.com/auth-platform/api-gateway/internal/rawrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAuthService answers ValidateToken and GetAuthPolicy from fixed,
// test-controlled tables.
type fakeAuthService struct {
	policies map[string]getAuthPolicyResponse
	tokens   map[string]validateTokenResponse
}

func (f *fakeAuthService) dial(t *testing.T) *grpc.ClientConn {
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

func (f *fakeAuthService) handleValidateToken(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req rawrpc.Bytes
	if err := dec(&req); err != nil {
		return nil, err
	}
	var in validateTokenRequest
	_ = json.Unmarshal(req, &in)
	resp, ok := f.tokens[in.Token]
	if !ok {
		resp = validateTokenResponse{Valid: false, Error: "unknown token"}
	}
	out, _ := json.Marshal(resp)
	return rawrpc.Bytes(out), nil
}

func (f *fakeAuthService) handleGetAuthPolicy(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req rawrpc.Bytes
	if err := dec(&req); err != nil {
		return nil, err
	}
	var in getAuthPolicyRequest
	_ = json.Unmarshal(req, &in)
	resp, ok := f.policies[in.GRPCMethod]
	if !ok {
		resp = getAuthPolicyResponse{RequireAuth: true}
	}
	out, _ := json.Marshal(resp)
	return rawrpc.Bytes(out), nil
}

func TestGate_Authorize_NoAuthRequiredAllowsWithoutToken(t *testing.T) {
	fake := &fakeAuthService{
		policies: map[string]getAuthPolicyResponse{"/billing.BillingService/ListInvoices": {RequireAuth: false}},
	}
	g := New(fake.dial(t), discardLogger())

	decision, err := g.Authorize(context.Background(), httptest.NewRequest("GET", "/x", nil), "billing-service", "/billing.BillingService/ListInvoices")
	require.NoError(t, err)
	assert.Nil(t, decision.Metadata)
}

func TestGate_Authorize_MissingTokenWhenRequired(t *testing.T) {
	fake := &fakeAuthService{
		policies: map[string]getAuthPolicyResponse{"/billing.BillingService/GetInvoice": {RequireAuth: true}},
	}
	g := New(fake.dial(t), discardLogger())

	_, err := g.Authorize(context.Background(), httptest.NewRequest("GET", "/x", nil), "billing-service", "/billing.BillingService/GetInvoice")
	require.Error(t, err)
}

func TestGate_Authorize_ValidTokenWithSufficientRoleSucceeds(t *testing.T) {
	fake := &fakeAuthService{
		policies: map[string]getAuthPolicyResponse{"/billing.BillingService/GetInvoice": {RequireAuth: true, RequiredRoles: []string{"billing-admin"}}},
		tokens:   map[string]validateTokenResponse{"good-token": {Valid: true, UserID: "user-1", Roles: []string{"billing-admin"}}},
	}
	g := New(fake.dial(t), discardLogger())

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("Authorization", "Bearer good-token")

	decision, err := g.Authorize(context.Background(), r, "billing-service", "/billing.BillingService/GetInvoice")
	require.NoError(t, err)
	assert.Equal(t, "user-1", decision.Metadata["_auth_user_id"])
	assert.Equal(t, "billing-admin", decision.Metadata["_auth_roles"])
}

func TestGate_Authorize_InsufficientRoleIsDenied(t *testing.T) {
	fake := &fakeAuthService{
		policies: map[string]getAuthPolicyResponse{"/billing.BillingService/GetInvoice": {RequireAuth: true, RequiredRoles: []string{"billing-admin"}}},
		tokens:   map[string]validateTokenResponse{"good-token": {Valid: true, UserID: "user-1", Roles: []string{"viewer"}}},
	}
	g := New(fake.dial(t), discardLogger())

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("Authorization", "Bearer good-token")

	_, err := g.Authorize(context.Background(), r, "billing-service", "/billing.BillingService/GetInvoice")
	require.Error(t, err)
}

func TestGate_Authorize_InvalidTokenIsRejected(t *testing.T) {
	fake := &fakeAuthService{
		policies: map[string]getAuthPolicyResponse{"/billing.BillingService/GetInvoice": {RequireAuth: true}},
	}
	g := New(fake.dial(t), discardLogger())

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("Authorization", "Bearer bad-token")

	_, err := g.Authorize(context.Background(), r, "billing-service", "/billing.BillingService/GetInvoice")
	require.Error(t, err)
}
