// Package eventbus fans a single domain.GatewayEvent stream out to multiple
// sinks (metrics, tracing, audit logging) asynchronously, so a slow or
// panicking subscriber never blocks or crashes the request path that
// produced the event.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// Bus implements domain.EventEmitter by buffering events on a channel and
// dispatching each to every subscribed sink from a dedicated goroutine.
// Emit never blocks the caller beyond the channel send: if the buffer is
// full, the event is dropped and logged rather than stalling the request.
type Bus struct {
	handlers []func(domain.GatewayEvent)
	eventCh  chan domain.GatewayEvent
	logger   *slog.Logger
	mu       sync.RWMutex
	closed   bool
}

// New creates a Bus with the given channel buffer size.
func New(logger *slog.Logger, bufferSize int) *Bus {
	b := &Bus{
		eventCh: make(chan domain.GatewayEvent, bufferSize),
		logger:  logger,
	}
	go b.dispatch()
	return b
}

// Subscribe registers a sink that every future event is delivered to.
// Subscribe is not safe to call concurrently with Close.
func (b *Bus) Subscribe(handler func(domain.GatewayEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Emit implements domain.EventEmitter.
func (b *Bus) Emit(event domain.GatewayEvent) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	select {
	case b.eventCh <- event:
	default:
		b.logger.Warn("event bus buffer full, dropping event",
			slog.String("event_type", string(event.Type)),
			slog.String("event_id", event.ID))
	}
}

func (b *Bus) dispatch() {
	for event := range b.eventCh {
		b.mu.RLock()
		handlers := make([]func(domain.GatewayEvent), len(b.handlers))
		copy(handlers, b.handlers)
		b.mu.RUnlock()

		for _, handler := range handlers {
			b.runHandler(handler, event)
		}
	}
}

func (b *Bus) runHandler(handler func(domain.GatewayEvent), event domain.GatewayEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event bus subscriber panicked",
				slog.Any("panic", r),
				slog.String("event_type", string(event.Type)))
		}
	}()
	handler(event)
}

// Close stops accepting new events and lets the dispatch goroutine drain
// what remains in the buffer before returning.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.eventCh)
}

var _ domain.EventEmitter = (*Bus)(nil)
