package domain

import "time"

// RetryConfig parameterizes exponential backoff with jitter.
type RetryConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterPercent   float64
	RetryableErrors []string // gRPC code names, e.g. "UNAVAILABLE"; empty means the pool default set
	RetryableOn     func(err error) bool
}

// DefaultRetryConfig matches the gateway's documented pool retry policy:
// 3 attempts, 100ms base delay doubling each attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}
