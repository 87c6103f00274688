package domain

import (
	"context"
	"time"
)

// CircuitState is one of the three circuit breaker states.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig parameterizes a single breaker instance.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures in Closed before tripping to Open
	SuccessThreshold int           // consecutive successes in HalfOpen before closing
	Timeout          time.Duration // how long Open is held before probing via HalfOpen
}

// DefaultCircuitBreakerConfig matches the gateway's documented defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreakerState is a point-in-time snapshot of a breaker, used for
// the control loop's stats refresh and for admin/metrics reporting.
type CircuitBreakerState struct {
	ServiceName     string
	State           CircuitState
	FailureCount    int
	SuccessCount    int
	LastFailureTime *time.Time
	LastStateChange time.Time
	Version         int64
}

// CircuitBreaker is satisfied by internal/circuitbreaker.Breaker and lets
// retry code (Handler.ExecuteWithCircuitBreaker) take a breaker without
// importing that package. The dispatcher uses *circuitbreaker.Breaker
// directly.
type CircuitBreaker interface {
	Execute(ctx context.Context, operation func() error) error
	Allow() bool
	GetState() CircuitState
	GetFullState() CircuitBreakerState
	RecordSuccess()
	RecordFailure()
	Reset()
}
