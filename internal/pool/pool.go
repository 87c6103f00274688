// Package pool manages long-lived, multiplexed gRPC channels to upstream
// services. A channel is dialed lazily on first use and kept open for the
// lifetime of the process; concurrent first-use requests for the same
// upstream are coalesced with singleflight so a cold upstream is dialed
// exactly once.
package pool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/auth-platform/api-gateway/internal/domain"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	http2KeepaliveTime    = 30 * time.Second
	http2KeepaliveTimeout = 20 * time.Second
)

// Upstream describes how to reach one backend service.
type Upstream struct {
	Name       string
	Address    string
	TLSEnabled bool
	ServerName string // expected TLS server name; defaults to host in Address
	CAFile     string // optional custom CA bundle; defaults to system pool
}

// Pool lazily dials and caches one *grpc.ClientConn per upstream.
type Pool struct {
	logger *slog.Logger

	mu      sync.RWMutex
	conns   map[string]*grpc.ClientConn
	group   singleflight.Group
	dialers map[string]Upstream
}

// New creates an empty Pool. Upstreams are registered via Register and
// dialed lazily on first Get.
func New(logger *slog.Logger) *Pool {
	return &Pool{
		logger:  logger,
		conns:   make(map[string]*grpc.ClientConn),
		dialers: make(map[string]Upstream),
	}
}

// Register adds or replaces an upstream's dial configuration. It does not
// dial; the connection is created lazily by Get.
func (p *Pool) Register(u Upstream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialers[u.Name] = u
}

// Services returns the set of currently registered upstream names.
func (p *Pool) Services() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.dialers))
	for name := range p.dialers {
		out = append(out, name)
	}
	return out
}

// Get returns the long-lived channel for upstream, dialing it on first use.
// Concurrent callers for the same never-yet-dialed upstream share a single
// dial via singleflight.
func (p *Pool) Get(ctx context.Context, upstream string) (*grpc.ClientConn, error) {
	p.mu.RLock()
	conn, ok := p.conns[upstream]
	u, registered := p.dialers[upstream]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}
	if !registered {
		return nil, domain.NewGatewayError(domain.ErrRouteNotFound, fmt.Sprintf("upstream %q is not registered", upstream))
	}

	v, err, _ := p.group.Do(upstream, func() (any, error) {
		p.mu.RLock()
		if existing, ok := p.conns[upstream]; ok {
			p.mu.RUnlock()
			return existing, nil
		}
		p.mu.RUnlock()

		dialCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()

		newConn, dialErr := dial(dialCtx, u)
		if dialErr != nil {
			return nil, dialErr
		}

		p.mu.Lock()
		p.conns[upstream] = newConn
		p.mu.Unlock()
		p.logger.Info("dialed upstream channel", slog.String("upstream", upstream), slog.String("address", u.Address))
		return newConn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial upstream %q: %w", upstream, err)
	}
	return v.(*grpc.ClientConn), nil
}

func dial(ctx context.Context, u Upstream) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                http2KeepaliveTime,
			Timeout:             http2KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}

	creds, err := transportCredentials(u)
	if err != nil {
		return nil, err
	}
	opts = append(opts, grpc.WithTransportCredentials(creds))

	conn, err := grpc.NewClient(u.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", u.Address, err)
	}
	return conn, nil
}

func transportCredentials(u Upstream) (credentials.TransportCredentials, error) {
	if !u.TLSEnabled {
		return insecure.NewCredentials(), nil
	}

	tlsConfig := &tls.Config{ServerName: u.ServerName, MinVersion: tls.VersionTLS12}
	if u.CAFile != "" {
		pem, err := os.ReadFile(u.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file %s: %w", u.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates found in %s", u.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return credentials.NewTLS(tlsConfig), nil
}

// HealthCheck reports whether upstream's gRPC health service reports
// SERVING. A non-SERVING response or an RPC error both count as unhealthy.
func (p *Pool) HealthCheck(ctx context.Context, upstream string) bool {
	conn, err := p.Get(ctx, upstream)
	if err != nil {
		return false
	}
	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Close closes every dialed channel.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for name, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close channel for %q: %w", name, err)
		}
	}
	p.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

// IsRetryable reports whether a gRPC status code is safe to retry under the
// gateway's retry policy: only transient conditions qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
