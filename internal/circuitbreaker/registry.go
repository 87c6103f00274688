package circuitbreaker

import (
	"sync"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// Registry holds one Breaker per upstream service, created lazily on first
// lookup so callers never need to pre-enumerate every configured upstream.
type Registry struct {
	mu           sync.RWMutex
	breakers     map[string]*Breaker
	defaults     map[string]domain.CircuitBreakerConfig
	eventBuilder *domain.EventBuilder
	store        StateStore
}

// NewRegistry creates a Registry. defaults maps upstream name to its
// breaker parameters; an upstream absent from defaults gets
// domain.DefaultCircuitBreakerConfig(). store is optional; pass nil to run
// with no persistence (every breaker starts Closed, which is always
// correct, just slower to relearn a downed dependency after a restart).
func NewRegistry(defaults map[string]domain.CircuitBreakerConfig, eventBuilder *domain.EventBuilder, store StateStore) *Registry {
	return &Registry{
		breakers:     make(map[string]*Breaker),
		defaults:     defaults,
		eventBuilder: eventBuilder,
		store:        store,
	}
}

// Get returns the breaker for upstream, creating it on first call.
func (r *Registry) Get(upstream string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[upstream]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[upstream]; ok {
		return b
	}

	cfg, ok := r.defaults[upstream]
	if !ok {
		cfg = domain.DefaultCircuitBreakerConfig()
	}
	b = New(Config{ServiceName: upstream, Config: cfg, EventBuilder: r.eventBuilder, Store: r.store})
	r.breakers[upstream] = b
	return b
}

// Snapshot returns the current CircuitBreakerState of every breaker created
// so far, keyed by upstream name. Used by the control loop's stats refresh
// and by /metrics.
func (r *Registry) Snapshot() map[string]domain.CircuitBreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.CircuitBreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.GetFullState()
	}
	return out
}
