package ws

import (
	"context"
	"sync"
	"time"

	"parkwise/backend/services/parking-service/internal/metrics"
)

// Manager tracks gate connections, one per gate id.
type Manager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pingInterval time.Duration
	metrics      *metrics.Metrics
}

// NewManager builds connection manager.
func NewManager(pingInterval time.Duration, m *metrics.Metrics) *Manager {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		pingInterval: pingInterval,
		metrics:      m,
	}
}

// PingInterval returns the keepalive interval.
func (m *Manager) PingInterval() time.Duration {
	return m.pingInterval
}

// Add registers conn and returns the connection it replaced, if any.
func (m *Manager) Add(conn *Connection) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous := m.connections[conn.GateID()]
	m.connections[conn.GateID()] = conn
	m.metrics.SetGateConnections(len(m.connections))
	return previous
}

// Remove drops conn unless a newer connection for the same gate replaced it.
func (m *Manager) Remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.connections[conn.GateID()]; ok && current == conn {
		delete(m.connections, conn.GateID())
	}
	m.metrics.SetGateConnections(len(m.connections))
}

// Count returns the number of connected gates.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Start pings every connection on each interval until ctx ends, then closes
// them.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.mu.RLock()
			for _, conn := range m.connections {
				conn.Ping()
			}
			m.mu.RUnlock()
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}
