package grpc

import (
	"context"

	"github.com/auth-platform/api-gateway/internal/pool"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// healthServer implements grpc_health_v1.HealthServer against the same
// pool the dispatcher calls through: a registered upstream is SERVING if
// its channel answers pool.HealthCheck, NOT_SERVING otherwise. An unknown
// service name (req.Service set to something that isn't a registered
// upstream) reports SERVICE_UNKNOWN, per the health-checking protocol.
type healthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	pool *pool.Pool
}

func newHealthServer(p *pool.Pool) *healthServer {
	return &healthServer{pool: p}
}

func (h *healthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if req.Service == "" {
		return &grpc_health_v1.HealthCheckResponse{Status: h.overallStatus(ctx)}, nil
	}

	if !h.isRegistered(req.Service) {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN}, nil
	}

	if h.pool.HealthCheck(ctx, req.Service) {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
}

// Watch sends one status immediately; it does not stream subsequent
// transitions, since the gateway has no push mechanism for upstream health
// changes (callers should poll Check instead).
func (h *healthServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	resp, err := h.Check(stream.Context(), req)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(resp)
}

func (h *healthServer) overallStatus(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	for _, name := range h.pool.Services() {
		if !h.pool.HealthCheck(ctx, name) {
			return grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

func (h *healthServer) isRegistered(service string) bool {
	for _, name := range h.pool.Services() {
		if name == service {
			return true
		}
	}
	return false
}
