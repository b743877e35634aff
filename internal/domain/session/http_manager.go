package session

import "log/slog"

// HTTPManager is the session manager used by the streamable HTTP transport:
// one session per client, each with at most one SSE streaming connection
// that is closed when the session terminates.
type HTTPManager struct {
	*Manager
}

// NewHTTPManager creates an HTTPManager.
func NewHTTPManager(cfg Config, logger *slog.Logger) *HTTPManager {
	m := &HTTPManager{Manager: NewManager(cfg, logger)}
	m.SetOnTerminated(func(sess *Session) {
		if conn := sess.Stream(); conn != nil {
			_ = conn.Close()
			sess.ClearStream(conn)
		}
	})
	return m
}

// SetStreaming binds an SSE connection to the session, replacing (and
// closing) any previous one.
func (m *HTTPManager) SetStreaming(sess *Session, conn StreamConn) {
	sess.SetStream(conn)
}

// RemoveStreaming detaches the connection from the session if still bound.
func (m *HTTPManager) RemoveStreaming(sess *Session, conn StreamConn) {
	sess.ClearStream(conn)
}
