package session

import (
	"log/slog"
	"sync"
)

// SSEManager is the legacy SSE transport's manager: a single shared session
// with multiple client connections attached. It exists for backward
// compatibility only; it cannot isolate tenants, so the streamable HTTP
// manager (one session per client) should be preferred.
type SSEManager struct {
	*Manager

	sharedID string

	mu      sync.RWMutex
	clients map[string]StreamConn // client id -> connection
}

// NewSSEManager creates an SSEManager and its shared session. It logs a
// deprecation warning at construction.
func NewSSEManager(cfg Config, logger *slog.Logger) *SSEManager {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("SSE session manager is deprecated: all clients share one session; use the streamable HTTP transport for per-client isolation")

	m := &SSEManager{
		Manager: NewManager(cfg, logger),
		clients: make(map[string]StreamConn),
	}
	shared := m.Create("", nil)
	m.sharedID = shared.ID
	return m
}

// SharedSession returns the single session all clients attach to.
func (m *SSEManager) SharedSession() *Session {
	sess, _ := m.Get(m.sharedID)
	return sess
}

// AttachClient registers a client connection on the shared session.
func (m *SSEManager) AttachClient(clientID string, conn StreamConn) {
	m.mu.Lock()
	prev := m.clients[clientID]
	m.clients[clientID] = conn
	m.mu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// DetachClient removes a client connection.
func (m *SSEManager) DetachClient(clientID string) {
	m.mu.Lock()
	conn := m.clients[clientID]
	delete(m.clients, clientID)
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// ClientCount returns the number of attached clients.
func (m *SSEManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast sends data to every attached client connection and returns the
// number successfully delivered to.
func (m *SSEManager) Broadcast(data string) int {
	m.mu.RLock()
	conns := make([]StreamConn, 0, len(m.clients))
	for _, conn := range m.clients {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if conn.Send(data) {
			delivered++
		}
	}
	return delivered
}
