package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// mockEmitter is a test implementation of EventEmitter.
type mockEmitter struct {
	mu     sync.Mutex
	events []domain.GatewayEvent
}

func newMockEmitter() *mockEmitter {
	return &mockEmitter{events: make([]domain.GatewayEvent, 0)}
}

func (m *mockEmitter) Emit(event domain.GatewayEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockEmitter) GetEvents() []domain.GatewayEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.GatewayEvent, len(m.events))
	copy(result, m.events)
	return result
}

func newTestLimiter(limit int, window time.Duration, maxClients int) *Limiter {
	return New(Config{RateLimit: domain.RateLimitConfig{
		RequestsPerWindow: limit,
		Window:            window,
		MaxTrackedClients: maxClients,
	}})
}

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("Sliding window allows requests up to limit", prop.ForAll(
		func(limit int) bool {
			if limit < 1 {
				limit = 1
			}
			if limit > 50 {
				limit = 50
			}

			l := newTestLimiter(limit, time.Second, 100)

			for i := 0; i < limit; i++ {
				decision, _ := l.Allow(context.Background(), "test")
				if !decision.Allowed {
					t.Logf("request %d should be allowed", i)
					return false
				}
			}

			decision, _ := l.Allow(context.Background(), "test")
			return !decision.Allowed
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestSlidingWindow_ExpiresOldRequests(t *testing.T) {
	l := newTestLimiter(5, 50*time.Millisecond, 10)

	for i := 0; i < 5; i++ {
		l.Allow(context.Background(), "test")
	}

	decision, _ := l.Allow(context.Background(), "test")
	if decision.Allowed {
		t.Error("should be at limit")
	}

	time.Sleep(60 * time.Millisecond)

	decision, _ = l.Allow(context.Background(), "test")
	if !decision.Allowed {
		t.Error("should allow after window expires")
	}
}

func TestSlidingWindow_EmitsEventsOnDenial(t *testing.T) {
	emitter := newMockEmitter()
	builder := domain.NewEventBuilder(emitter, "ratelimit")

	l := New(Config{
		RateLimit:    domain.RateLimitConfig{RequestsPerWindow: 1, Window: time.Second, MaxTrackedClients: 10},
		EventBuilder: builder,
	})

	l.Allow(context.Background(), "test")
	l.Allow(context.Background(), "test")

	events := emitter.GetEvents()
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
	if len(events) > 0 && events[0].Type != domain.EventRateLimitHit {
		t.Errorf("expected EventRateLimitHit, got %s", events[0].Type)
	}
}

func TestRateLimiter_NilEventBuilder(t *testing.T) {
	l := newTestLimiter(1, time.Second, 10)
	l.Allow(context.Background(), "test")
	l.Allow(context.Background(), "test") // must not panic
}

func TestLimiter_EvictsLeastRecentlySeenAtCapacity(t *testing.T) {
	l := newTestLimiter(10, time.Minute, 2)

	l.Allow(context.Background(), "client-a")
	time.Sleep(time.Millisecond)
	l.Allow(context.Background(), "client-b")
	time.Sleep(time.Millisecond)
	l.Allow(context.Background(), "client-c") // evicts client-a

	if l.TrackedClients() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", l.TrackedClients())
	}

	headersA, _ := l.GetHeaders(context.Background(), "client-a")
	if headersA.Remaining != 10 {
		t.Errorf("client-a should have been evicted and reset, got remaining=%d", headersA.Remaining)
	}
}

func TestLimiter_SweepRemovesIdleClients(t *testing.T) {
	l := newTestLimiter(10, 10*time.Millisecond, 100)

	l.Allow(context.Background(), "idle-client")
	time.Sleep(30 * time.Millisecond)

	removed := l.Sweep()
	if removed != 1 {
		t.Errorf("expected sweep to remove 1 idle client, removed %d", removed)
	}
	if l.TrackedClients() != 0 {
		t.Errorf("expected 0 tracked clients after sweep, got %d", l.TrackedClients())
	}
}

func TestLimiter_ExcludedPathsBypass(t *testing.T) {
	l := New(Config{RateLimit: domain.DefaultRateLimitConfig()})
	if !l.IsExcluded("/health") {
		t.Error("/health should be excluded from rate limiting")
	}
	if l.IsExcluded("/v1/widgets") {
		t.Error("/v1/widgets should not be excluded")
	}
}
