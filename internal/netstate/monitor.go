package netstate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// Monitor holds the connectivity state and broadcasts changes
type Monitor struct {
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	changed   chan struct{}
}

// Ensure Monitor implements port.Connectivity
var _ port.Connectivity = (*Monitor)(nil)

// NewMonitor creates a new Monitor with the given initial state
func NewMonitor(connected bool, logger *zap.Logger) *Monitor {
	return &Monitor{
		logger:    logger,
		connected: connected,
		changed:   make(chan struct{}),
	}
}

// Connected returns the current state
func (m *Monitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Changed returns a channel that is closed on the next state change
func (m *Monitor) Changed() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changed
}

// Set updates the state. Waiters are woken only on an actual change.
func (m *Monitor) Set(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("connected", connected))
}
