// Package timeout implements per-operation deadline enforcement via context
// cancellation.
package timeout

import (
	"context"
	"time"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// Manager wraps operation execution in a context deadline, resolved from a
// per-operation override or the configured default.
type Manager struct {
	serviceName string
	config      domain.TimeoutConfig
}

// Config holds timeout manager creation options.
type Config struct {
	ServiceName string
	Config      domain.TimeoutConfig
}

// New creates a new timeout manager.
func New(cfg Config) *Manager {
	return &Manager{serviceName: cfg.ServiceName, config: cfg.Config}
}

// GetTimeout resolves the effective timeout for an operation name.
func (m *Manager) GetTimeout(op string) time.Duration {
	return m.config.For(op)
}

// Execute runs operation with a context carrying the resolved deadline. If
// the deadline elapses before operation returns, Execute returns a
// domain.GatewayError with ErrTimeout.
func (m *Manager) Execute(ctx context.Context, op string, operation func(ctx context.Context) error) error {
	timeout := m.config.For(op)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- operation(execCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-execCtx.Done():
		<-done // let the goroutine finish to avoid leaking it
		return domain.NewTimeoutError(m.serviceName, timeout).WithMetadata("operation", op)
	}
}
