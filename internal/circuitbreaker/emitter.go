package circuitbreaker

import (
	"sync"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// MockEventEmitter is a test implementation of domain.EventEmitter.
type MockEventEmitter struct {
	mu     sync.Mutex
	events []domain.GatewayEvent
}

// NewMockEventEmitter creates a new mock event emitter.
func NewMockEventEmitter() *MockEventEmitter {
	return &MockEventEmitter{events: make([]domain.GatewayEvent, 0)}
}

// Emit records a gateway event.
func (m *MockEventEmitter) Emit(event domain.GatewayEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// GetEvents returns all recorded events.
func (m *MockEventEmitter) GetEvents() []domain.GatewayEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.GatewayEvent, len(m.events))
	copy(result, m.events)
	return result
}

// Clear removes all recorded events.
func (m *MockEventEmitter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make([]domain.GatewayEvent, 0)
}

// GetStateChangeEvents returns only circuit state change events.
func (m *MockEventEmitter) GetStateChangeEvents() []domain.GatewayEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []domain.GatewayEvent
	for _, e := range m.events {
		if e.Type == domain.EventCircuitStateChange {
			result = append(result, e)
		}
	}
	return result
}
