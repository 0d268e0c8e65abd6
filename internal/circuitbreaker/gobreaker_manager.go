package circuitbreaker

import (
	"sync"

	"webhook-relay/internal/common/logging"
)

// GoBreakerManager keeps one breaker per destination id.
type GoBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*GoBreakerAdapter
	logger   logging.Logger
}

// NewGoBreakerManager creates a new manager using gobreaker
func NewGoBreakerManager(logger logging.Logger) *GoBreakerManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &GoBreakerManager{
		breakers: make(map[string]*GoBreakerAdapter),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker for destinationID. Editing a
// destination's breaker settings replaces its breaker, which resets the
// counts and closes it.
func (m *GoBreakerManager) GetOrCreate(destinationID string, config Config) *GoBreakerAdapter {
	if breaker, ok := m.Get(destinationID); ok && breaker.Config() == config {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.breakers[destinationID]
	switch {
	case exists && current.Config() == config:
		return current
	case exists:
		m.logger.Info("Circuit breaker reconfigured",
			logging.String("destination_id", destinationID),
			logging.String("previous_state", current.State().String()),
		)
	}

	breaker := NewGoBreaker(destinationID, config, m.logger)
	m.breakers[destinationID] = breaker
	return breaker
}

// Get returns the breaker for destinationID if one has been created.
func (m *GoBreakerManager) Get(destinationID string) (*GoBreakerAdapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	breaker, ok := m.breakers[destinationID]
	return breaker, ok
}

// Remove forgets the breaker of a deleted destination.
func (m *GoBreakerManager) Remove(destinationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.breakers[destinationID]
	delete(m.breakers, destinationID)
	return ok
}

// IsOpen reports whether destinationID's breaker is rejecting calls. An
// unknown destination is closed.
func (m *GoBreakerManager) IsOpen(destinationID string) bool {
	breaker, ok := m.Get(destinationID)
	return ok && breaker.IsOpen()
}
