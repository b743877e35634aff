package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmcpd/openmcpd/internal/domain/request"
)

// DefaultTimeout is the default idle timeout before a session is evicted.
const DefaultTimeout = 5 * time.Minute

// cleanupInterval is how often the background task evicts expired sessions.
const cleanupInterval = 60 * time.Second

// Config holds manager configuration.
type Config struct {
	// Timeout is the idle duration after which sessions expire.
	// Default: 5 minutes.
	Timeout time.Duration
	// TransportType is recorded in minimal request contexts built for
	// sessions created without framing.
	TransportType string
	// AutoCleanup starts the periodic eviction task when the manager's
	// Start is called.
	AutoCleanup bool
}

// Manager owns the session table: creation, lookup, timeout-based eviction,
// and broadcast to streaming connections.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout       time.Duration
	transportType string
	autoCleanup   bool
	logger        *slog.Logger

	// onTerminated runs after a session is removed, outside the table
	// lock. The HTTP variant uses it to close the streaming connection.
	onTerminated func(*Session)

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewManager creates a Manager with the given config and logger.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		timeout:       cfg.Timeout,
		transportType: cfg.TransportType,
		autoCleanup:   cfg.AutoCleanup,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Timeout returns the configured idle timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Create registers a new session. An empty id generates a random one. The
// request context is required; sessions never share one. When a session
// with the given id already exists and has not expired, it is returned
// untouched instead of being replaced.
func (m *Manager) Create(id string, reqCtx *request.Context) *Session {
	if reqCtx == nil {
		// Each session gets its own minimal context; sharing one
		// instance would leak metadata across tenants.
		reqCtx = request.Minimal(m.transportType)
	}
	if id == "" {
		id = GenerateID()
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok && !existing.Expired(m.timeout) {
		m.mu.Unlock()
		existing.Touch()
		return existing
	}
	sess := newSession(id, reqCtx)
	m.sessions[id] = sess
	m.mu.Unlock()

	m.logger.Debug("session created", "session_id", id)
	return sess
}

// Get looks up a session by id and touches it. Returns false when the
// session does not exist or has expired.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || sess.Expired(m.timeout) {
		return nil, false
	}
	sess.Touch()
	return sess, true
}

// GetOrCreate returns the session for id, creating one when the id is
// empty, unknown, or expired. Unknown ids are never adopted: session ids
// are always minted server-side, so a terminated id presented again yields
// a session with a different id and clients cannot fixate ids they were
// never issued.
func (m *Manager) GetOrCreate(id string, reqCtx *request.Context) *Session {
	if id != "" {
		if sess, ok := m.Get(id); ok {
			return sess
		}
	}
	return m.Create("", reqCtx)
}

// Terminate removes a session. Returns false when the id is unknown.
func (m *Manager) Terminate(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.finalize(sess)
	m.logger.Debug("session terminated", "session_id", id)
	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpired evicts every session idle past the timeout and returns how
// many were removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if sess.Expired(m.timeout) {
			delete(m.sessions, id)
			expired = append(expired, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		m.finalize(sess)
	}
	if len(expired) > 0 {
		m.logger.Debug("cleaned expired sessions", "count", len(expired))
	}
	return len(expired)
}

// CleanupAll removes every session. Used during shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range all {
		m.finalize(sess)
	}
}

// Broadcast sends data to every session with an active stream and returns
// the number of sessions successfully delivered to.
func (m *Manager) Broadcast(data string) int {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		targets = append(targets, sess)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, sess := range targets {
		conn := sess.Stream()
		if conn == nil {
			continue
		}
		if conn.Send(data) {
			delivered++
		}
	}
	return delivered
}

// Start launches the periodic cleanup task when auto-cleanup is enabled.
// The task stops when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	if !m.autoCleanup {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()
}

// Stop halts the cleanup task and waits for it to exit. Safe to call
// multiple times.
func (m *Manager) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// SetOnTerminated installs the hook run after a session is removed.
func (m *Manager) SetOnTerminated(fn func(*Session)) {
	m.onTerminated = fn
}

// finalize runs the termination hook outside the table lock.
func (m *Manager) finalize(sess *Session) {
	if m.onTerminated != nil {
		m.onTerminated(sess)
	}
}

// GenerateID creates a cryptographically random session id, 32 bytes
// hex-encoded.
func GenerateID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process is in a bad state;
		// fall back to a time-derived id rather than panic.
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
