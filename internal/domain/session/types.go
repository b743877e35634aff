// Package session manages per-client sessions and their streaming links.
package session

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/openmcpd/openmcpd/internal/domain/request"
)

// StreamConn is the server-side writable end of an open SSE stream bound to
// a session. Implemented by the HTTP transport's stream handler.
type StreamConn interface {
	// Send enqueues a message event on the stream. Returns false when the
	// connection is closed or the writer has failed.
	Send(data string) bool
	// Close tears down the stream and wakes its writer loop.
	Close() error
	// IsClosed reports whether the connection has been closed.
	IsClosed() bool
}

// ErrSessionNotFound is returned when a session doesn't exist or is expired.
var ErrSessionNotFound = errors.New("session not found")

// Session tracks one client's state: identity, request context, last access,
// and at most one streaming connection.
type Session struct {
	// ID is opaque and unique within the manager. HTTP sessions get a
	// cryptographically random id; the stdio transport uses a fixed one.
	ID string
	// CreatedAt is when the session was created.
	CreatedAt time.Time

	mu         sync.RWMutex
	lastAccess time.Time
	reqCtx     *request.Context
	metadata   map[string]any
	stream     StreamConn
}

func newSession(id string, reqCtx *request.Context) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		lastAccess: now,
		reqCtx:     reqCtx,
		metadata:   make(map[string]any),
	}
}

// Touch records activity, advancing the expiry window.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// LastAccess returns the last activity timestamp.
func (s *Session) LastAccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccess
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(timeout time.Duration) bool {
	return time.Since(s.LastAccess()) > timeout
}

// RequestContext returns the context captured when the session was created.
func (s *Session) RequestContext() *request.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reqCtx
}

// SetRequestContext replaces the session's request context. Used when a
// session created without framing later sees a full HTTP request.
func (s *Session) SetRequestContext(rc *request.Context) {
	s.mu.Lock()
	s.reqCtx = rc
	s.mu.Unlock()
}

// Meta returns a metadata value.
func (s *Session) Meta(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[key]
}

// SetMeta stores a metadata value.
func (s *Session) SetMeta(key string, value any) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Metadata returns a copy of the metadata map.
func (s *Session) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.metadata))
	maps.Copy(out, s.metadata)
	return out
}

// Stream returns the bound streaming connection, nil when none is active.
func (s *Session) Stream() StreamConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

// SetStream binds a streaming connection, closing any previous one. A
// session holds exactly one streaming connection at a time.
func (s *Session) SetStream(conn StreamConn) {
	s.mu.Lock()
	prev := s.stream
	s.stream = conn
	s.mu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// ClearStream detaches the connection if it is still the bound one.
func (s *Session) ClearStream(conn StreamConn) {
	s.mu.Lock()
	if s.stream == conn {
		s.stream = nil
	}
	s.mu.Unlock()
}
