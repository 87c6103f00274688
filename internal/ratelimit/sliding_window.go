// Package ratelimit implements per-client sliding-window rate limiting,
// bounded to a fixed number of tracked clients.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// cleanupThresholdMultiplier controls how long an idle client's window is
// kept before it becomes eligible for eviction: idle >= multiplier*window.
const cleanupThresholdMultiplier = 2

// clientWindow is one tracked client's in-flight request timestamps.
type clientWindow struct {
	requests []time.Time
	lastSeen time.Time
}

// Limiter is a bounded collection of per-client sliding windows. It never
// grows past MaxTrackedClients: once full, Allow evicts the least-recently
// seen client to make room for a new one.
type Limiter struct {
	mu           sync.Mutex
	limit        int
	window       time.Duration
	maxClients   int
	clients      map[string]*clientWindow
	excludedPath map[string]struct{}
	eventBuilder *domain.EventBuilder
}

// Config holds rate limiter creation options.
type Config struct {
	RateLimit    domain.RateLimitConfig
	EventBuilder *domain.EventBuilder
}

// New creates a new bounded sliding-window rate limiter.
func New(cfg Config) *Limiter {
	excluded := make(map[string]struct{}, len(cfg.RateLimit.ExcludedPaths))
	for _, p := range cfg.RateLimit.ExcludedPaths {
		excluded[p] = struct{}{}
	}
	return &Limiter{
		limit:        cfg.RateLimit.RequestsPerWindow,
		window:       cfg.RateLimit.Window,
		maxClients:   cfg.RateLimit.MaxTrackedClients,
		clients:      make(map[string]*clientWindow),
		excludedPath: excluded,
		eventBuilder: cfg.EventBuilder,
	}
}

// IsExcluded reports whether a request path bypasses rate limiting entirely.
func (l *Limiter) IsExcluded(path string) bool {
	_, ok := l.excludedPath[path]
	return ok
}

// Allow checks and records a request for the given client key (typically a
// client IP). It never blocks.
func (l *Limiter) Allow(ctx context.Context, key string) (domain.RateLimitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cw := l.getOrCreate(key, now)
	l.pruneOldRequests(cw, now)

	decision := domain.RateLimitDecision{
		Limit:     l.limit,
		Remaining: l.limit - len(cw.requests),
		ResetAt:   l.calculateResetTime(cw, now),
	}

	if len(cw.requests) < l.limit {
		cw.requests = append(cw.requests, now)
		decision.Allowed = true
		decision.Remaining = l.limit - len(cw.requests)
	} else {
		decision.Allowed = false
		decision.RetryAfter = l.calculateRetryAfter(cw, now)
		l.emitRateLimitEvent(ctx, key, decision)
	}

	return decision, nil
}

// GetHeaders returns the current rate limit headers for a client without
// consuming a request slot.
func (l *Limiter) GetHeaders(ctx context.Context, key string) (domain.RateLimitHeaders, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cw, ok := l.clients[key]
	if !ok {
		return domain.RateLimitHeaders{Limit: l.limit, Remaining: l.limit, Reset: now.Unix()}, nil
	}
	l.pruneOldRequests(cw, now)

	return domain.RateLimitHeaders{
		Limit:     l.limit,
		Remaining: l.limit - len(cw.requests),
		Reset:     l.calculateResetTime(cw, now).Unix(),
	}, nil
}

// getOrCreate returns the client's window, creating one and evicting the
// least-recently-seen client if the limiter is at capacity. Must be called
// with the lock held.
func (l *Limiter) getOrCreate(key string, now time.Time) *clientWindow {
	if cw, ok := l.clients[key]; ok {
		cw.lastSeen = now
		return cw
	}

	if l.maxClients > 0 && len(l.clients) >= l.maxClients {
		l.evictLeastRecentlySeen()
	}

	cw := &clientWindow{lastSeen: now}
	l.clients[key] = cw
	return cw
}

// evictLeastRecentlySeen drops the client with the oldest lastSeen
// timestamp. Must be called with the lock held.
func (l *Limiter) evictLeastRecentlySeen() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for k, cw := range l.clients {
		if first || cw.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = cw.lastSeen
			first = false
		}
	}

	if !first {
		delete(l.clients, oldestKey)
	}
}

// Sweep drops clients that have been idle for at least
// cleanupThresholdMultiplier*window and have no in-flight requests. The
// control loop calls this periodically so memory does not grow unbounded
// between evictions triggered by capacity pressure alone.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	threshold := time.Duration(cleanupThresholdMultiplier) * l.window
	removed := 0

	for k, cw := range l.clients {
		l.pruneOldRequests(cw, now)
		if len(cw.requests) == 0 && now.Sub(cw.lastSeen) >= threshold {
			delete(l.clients, k)
			removed++
		}
	}

	return removed
}

// TrackedClients returns the current number of tracked clients (for
// metrics/testing).
func (l *Limiter) TrackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// pruneOldRequests removes requests outside the window. Must be called with
// the lock held.
func (l *Limiter) pruneOldRequests(cw *clientWindow, now time.Time) {
	windowStart := now.Add(-l.window)

	firstValid := len(cw.requests)
	for i, t := range cw.requests {
		if t.After(windowStart) {
			firstValid = i
			break
		}
	}

	if firstValid > 0 {
		cw.requests = cw.requests[firstValid:]
	}
}

// calculateResetTime returns when the oldest in-window request expires.
func (l *Limiter) calculateResetTime(cw *clientWindow, now time.Time) time.Time {
	if len(cw.requests) == 0 {
		return now
	}
	return cw.requests[0].Add(l.window)
}

// calculateRetryAfter returns how long the client must wait for a free slot.
func (l *Limiter) calculateRetryAfter(cw *clientWindow, now time.Time) time.Duration {
	if len(cw.requests) == 0 {
		return 0
	}
	oldestExpiry := cw.requests[0].Add(l.window)
	if oldestExpiry.After(now) {
		return oldestExpiry.Sub(now)
	}
	return 0
}

func (l *Limiter) emitRateLimitEvent(ctx context.Context, key string, decision domain.RateLimitDecision) {
	if l.eventBuilder == nil {
		return
	}
	l.eventBuilder.EmitWithContext(ctx, domain.EventRateLimitHit, map[string]any{
		"key":         key,
		"allowed":     decision.Allowed,
		"remaining":   decision.Remaining,
		"retry_after": decision.RetryAfter.String(),
	})
}
