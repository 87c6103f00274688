package testutil

import (
	"time"

	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
)

// GenCircuitState generates random circuit states.
func GenCircuitState() gopter.Gen {
	return gen.IntRange(0, 2).Map(func(i int) domain.CircuitState {
		return domain.CircuitState(i)
	})
}

// GenCircuitBreakerConfig generates valid circuit breaker configurations.
func GenCircuitBreakerConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 20),       // FailureThreshold
		gen.IntRange(1, 10),       // SuccessThreshold
		gen.IntRange(1000, 60000), // Timeout in ms
	).Map(func(vals []interface{}) domain.CircuitBreakerConfig {
		return domain.CircuitBreakerConfig{
			FailureThreshold: vals[0].(int),
			SuccessThreshold: vals[1].(int),
			Timeout:          time.Duration(vals[2].(int)) * time.Millisecond,
		}
	})
}

// GenCircuitBreakerState generates valid circuit breaker states.
func GenCircuitBreakerState() gopter.Gen {
	return gopter.CombineGens(
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 && len(s) < 50 }),
		GenCircuitState(),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.Int64Range(0, time.Now().UnixNano()),
	).Map(func(vals []interface{}) domain.CircuitBreakerState {
		ts := time.Unix(0, vals[4].(int64))
		return domain.CircuitBreakerState{
			ServiceName:     vals[0].(string),
			State:           vals[1].(domain.CircuitState),
			FailureCount:    vals[2].(int),
			SuccessCount:    vals[3].(int),
			LastStateChange: ts,
			Version:         1,
		}
	})
}

// GenRetryConfig generates valid retry configurations.
func GenRetryConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 10),        // MaxAttempts
		gen.IntRange(10, 1000),     // BaseDelay in ms
		gen.IntRange(1000, 60000),  // MaxDelay in ms
		gen.Float64Range(1.0, 5.0), // Multiplier
		gen.Float64Range(0.0, 0.5), // JitterPercent
	).Map(func(vals []interface{}) domain.RetryConfig {
		return domain.RetryConfig{
			MaxAttempts:   vals[0].(int),
			BaseDelay:     time.Duration(vals[1].(int)) * time.Millisecond,
			MaxDelay:      time.Duration(vals[2].(int)) * time.Millisecond,
			Multiplier:    vals[3].(float64),
			JitterPercent: vals[4].(float64),
		}
	})
}

// GenTimeoutConfig generates valid timeout configurations.
func GenTimeoutConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(100, 30000),    // Default in ms
		gen.IntRange(30000, 300000), // Max in ms
	).Map(func(vals []interface{}) domain.TimeoutConfig {
		return domain.TimeoutConfig{
			Default: time.Duration(vals[0].(int)) * time.Millisecond,
			Max:     time.Duration(vals[1].(int)) * time.Millisecond,
			PerOp:   map[string]time.Duration{},
		}
	})
}

// GenRateLimitConfig generates valid rate limit configurations.
func GenRateLimitConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 10000),    // RequestsPerWindow
		gen.IntRange(1000, 60000), // Window in ms
		gen.IntRange(100, 10000),  // MaxTrackedClients
	).Map(func(vals []interface{}) domain.RateLimitConfig {
		return domain.RateLimitConfig{
			RequestsPerWindow: vals[0].(int),
			Window:            time.Duration(vals[1].(int)) * time.Millisecond,
			MaxTrackedClients: vals[2].(int),
		}
	})
}

// GenCorrelationID generates valid correlation/trace IDs.
func GenCorrelationID() gopter.Gen {
	return gen.RegexMatch("[a-zA-Z0-9]{8,36}")
}

// GenServiceName generates valid service names.
func GenServiceName() gopter.Gen {
	return gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) < 64
	})
}
