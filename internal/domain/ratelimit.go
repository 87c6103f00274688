package domain

import "time"

// RateLimitConfig parameterizes the per-client sliding window.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	MaxTrackedClients int
	ExcludedPaths     []string
}

// DefaultRateLimitConfig matches the gateway's documented defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 60,
		Window:            time.Minute,
		MaxTrackedClients: 10_000,
		ExcludedPaths: []string{
			"/health", "/health/liveness", "/health/readiness", "/metrics", "/api/health",
		},
	}
}

// RateLimitDecision is the outcome of a single Allow() check.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimitHeaders carries the X-RateLimit-* triple attached to every response.
type RateLimitHeaders struct {
	Limit     int
	Remaining int
	Reset     int64 // unix seconds
}
