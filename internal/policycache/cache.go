// Package policycache caches per-(service, method) authorization policies
// fetched from the auth service, so the auth gate does not make a round
// trip on every request.
package policycache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auth-platform/api-gateway/internal/domain"
	"golang.org/x/sync/singleflight"
)

// SuccessTTL is how long a successfully fetched policy is cached.
const SuccessTTL = 300 * time.Second

// NegativeTTL is how long a conservative fallback policy is cached after a
// failed fetch, so a flapping auth service doesn't get hammered.
const NegativeTTL = 60 * time.Second

// Fetcher calls the auth service's GetAuthPolicy RPC for one gRPC method.
type Fetcher func(ctx context.Context, grpcMethod string) (domain.AuthorizationPolicy, error)

type entry struct {
	policy    domain.AuthorizationPolicy
	expiresAt time.Time
}

// Cache is a TTL-bounded map of (service, method) -> AuthorizationPolicy,
// with single-flight coalescing of concurrent misses for the same key.
type Cache struct {
	fetch  Fetcher
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[domain.PolicyCacheKey]entry
	group   singleflight.Group
}

// New constructs a Cache that calls fetch on miss or expiry.
func New(fetch Fetcher, logger *slog.Logger) *Cache {
	return &Cache{
		fetch:   fetch,
		logger:  logger,
		entries: make(map[domain.PolicyCacheKey]entry),
	}
}

// Get returns the policy for (service, method), fetching it if absent or
// expired. Concurrent Get calls for the same key share one fetch.
func (c *Cache) Get(ctx context.Context, service, method string) (domain.AuthorizationPolicy, error) {
	key := domain.PolicyCacheKey{Service: service, Method: method}

	if p, ok := c.lookup(key); ok {
		return p, nil
	}

	groupKey := service + "/" + method
	v, err, _ := c.group.Do(groupKey, func() (any, error) {
		if p, ok := c.lookup(key); ok {
			return p, nil
		}

		policy, fetchErr := c.fetch(ctx, method)
		if fetchErr != nil {
			c.logger.Warn("auth policy fetch failed, caching conservative fallback",
				slog.String("service", service), slog.String("method", method), slog.Any("error", fetchErr))
			fallback := domain.AuthorizationPolicy{
				Service:       service,
				Method:        method,
				RequiresAuth:  true,
				RequiredRoles: nil,
				FetchedAt:     time.Now(),
			}
			c.store(key, fallback, NegativeTTL)
			return fallback, nil
		}

		c.store(key, policy, SuccessTTL)
		return policy, nil
	})
	if err != nil {
		return domain.AuthorizationPolicy{}, err
	}
	return v.(domain.AuthorizationPolicy), nil
}

func (c *Cache) lookup(key domain.PolicyCacheKey) (domain.AuthorizationPolicy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return domain.AuthorizationPolicy{}, false
	}
	return e.policy, true
}

func (c *Cache) store(key domain.PolicyCacheKey, policy domain.AuthorizationPolicy, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{policy: policy, expiresAt: time.Now().Add(ttl)}
}

// Len reports the number of cached entries, used for observability.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge removes every expired entry, so a long-idle gateway doesn't hold
// stale policies forever between lookups.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
