package service

import (
	"log/slog"

	"github.com/openmcpd/openmcpd/internal/domain/event"
	"github.com/openmcpd/openmcpd/internal/domain/session"
	"github.com/openmcpd/openmcpd/pkg/mcp"
)

// Server is the transport-facing facade: it owns the session manager and
// event store and delivers server-initiated messages over session streams.
// Transports call Dispatch for inbound messages and Send/Broadcast for
// outbound ones; they never reach into sessions directly.
type Server struct {
	dispatcher *Dispatcher
	sessions   *session.HTTPManager
	events     *event.Store
	logger     *slog.Logger
}

// NewServer creates a Server over the given collaborators.
func NewServer(d *Dispatcher, sessions *session.HTTPManager, events *event.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher: d,
		sessions:   sessions,
		events:     events,
		logger:     logger,
	}
}

// Dispatcher returns the method router.
func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }

// Sessions returns the session manager.
func (s *Server) Sessions() *session.HTTPManager { return s.sessions }

// Events returns the event store backing SSE replay.
func (s *Server) Events() *event.Store { return s.events }

// SendToSession pushes a message onto the session's SSE stream. The message
// is stored for replay and delivered as a "message" event. Returns false
// when the session has no active stream or the writer has failed.
func (s *Server) SendToSession(sess *session.Session, data string) bool {
	if sess == nil {
		return false
	}
	conn := sess.Stream()
	if conn == nil || conn.IsClosed() {
		return false
	}
	id := s.events.Store(data, "message")
	evt := event.Event{ID: id, Type: "message", Data: data}
	if !conn.Send(evt.Render()) {
		// Writer failure: detach the dead connection so the session can
		// accept a fresh stream.
		_ = conn.Close()
		sess.ClearStream(conn)
		return false
	}
	return true
}

// SendNotification sends a JSON-RPC notification to one session's stream.
func (s *Server) SendNotification(sessionID, method string, params any) bool {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return false
	}
	data, err := mcp.MarshalNotification(method, params)
	if err != nil {
		s.logger.Error("failed to encode notification", "method", method, "error", err)
		return false
	}
	return s.SendToSession(sess, string(data))
}

// BroadcastNotification sends a JSON-RPC notification to every session with
// an active stream and returns the number of recipients delivered to. The
// notification is stored once; all recipients share its event id.
func (s *Server) BroadcastNotification(method string, params any) int {
	data, err := mcp.MarshalNotification(method, params)
	if err != nil {
		s.logger.Error("failed to encode notification", "method", method, "error", err)
		return 0
	}
	return s.Broadcast(string(data))
}

// Broadcast delivers raw message data to every session with an active
// stream, storing it once for replay. Returns the recipient count.
func (s *Server) Broadcast(data string) int {
	id := s.events.Store(data, "message")
	evt := event.Event{ID: id, Type: "message", Data: data}
	return s.sessions.Broadcast(evt.Render())
}
