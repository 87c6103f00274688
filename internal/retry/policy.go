package retry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// PolicyDefinition is the wire form of a retry policy: plain milliseconds
// and strings instead of time.Duration, so it round-trips cleanly through
// JSON (MarshalPolicy/ParsePolicy).
type PolicyDefinition struct {
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMs   int      `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs    int      `json:"max_delay_ms" yaml:"max_delay_ms"`
	Multiplier    float64  `json:"multiplier" yaml:"multiplier"`
	JitterPercent float64  `json:"jitter_percent" yaml:"jitter_percent"`
	RetryOn       []string `json:"retry_on,omitempty" yaml:"retry_on,omitempty"`
}

// FromDefinition converts a config-level PolicyDefinition into the runtime
// domain.RetryConfig the handler executes against.
func FromDefinition(def PolicyDefinition) *domain.RetryConfig {
	return &domain.RetryConfig{
		MaxAttempts:     def.MaxAttempts,
		BaseDelay:       time.Duration(def.BaseDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(def.MaxDelayMs) * time.Millisecond,
		Multiplier:      def.Multiplier,
		JitterPercent:   def.JitterPercent,
		RetryableErrors: def.RetryOn,
	}
}

// ToDefinition converts a runtime RetryConfig back to its wire form.
func ToDefinition(cfg *domain.RetryConfig) PolicyDefinition {
	return PolicyDefinition{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelayMs:   int(cfg.BaseDelay / time.Millisecond),
		MaxDelayMs:    int(cfg.MaxDelay / time.Millisecond),
		Multiplier:    cfg.Multiplier,
		JitterPercent: cfg.JitterPercent,
		RetryOn:       cfg.RetryableErrors,
	}
}

// MarshalPolicy serializes a runtime RetryConfig to JSON.
func MarshalPolicy(cfg *domain.RetryConfig) ([]byte, error) {
	return json.Marshal(ToDefinition(cfg))
}

// ParsePolicy deserializes JSON into a runtime RetryConfig.
func ParsePolicy(data []byte) (*domain.RetryConfig, error) {
	var def PolicyDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse retry policy: %w", err)
	}
	if err := ValidatePolicy(def); err != nil {
		return nil, err
	}
	return FromDefinition(def), nil
}

// ValidatePolicy checks a PolicyDefinition's bounds; ParsePolicy rejects a
// definition that fails it.
func ValidatePolicy(def PolicyDefinition) error {
	if def.MaxAttempts < 1 || def.MaxAttempts > 10 {
		return fmt.Errorf("max_attempts must be between 1 and 10, got %d", def.MaxAttempts)
	}
	if def.Multiplier < 1.0 || def.Multiplier > 5.0 {
		return fmt.Errorf("multiplier must be between 1.0 and 5.0, got %f", def.Multiplier)
	}
	if def.JitterPercent < 0.0 || def.JitterPercent > 1.0 {
		return fmt.Errorf("jitter_percent must be between 0.0 and 1.0, got %f", def.JitterPercent)
	}
	return nil
}
