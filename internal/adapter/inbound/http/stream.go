package http

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmcpd/openmcpd/pkg/mcp"
)

// defaultHeartbeatInterval is how often an idle SSE stream emits a
// heartbeat event.
const defaultHeartbeatInterval = 20 * time.Second

// streamBufferSize bounds the per-stream outbound queue. A full queue
// counts as writer failure so a stalled client cannot block producers.
const streamBufferSize = 128

// streamConn is the server-side writable end of one SSE stream. It
// implements session.StreamConn: producers enqueue rendered events, the
// stream's pump goroutine drains them onto the wire.
type streamConn struct {
	ch     chan string
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

func newStreamConn() *streamConn {
	return &streamConn{
		ch:   make(chan string, streamBufferSize),
		done: make(chan struct{}),
	}
}

// Send enqueues a rendered event. Returns false when the connection is
// closed or the queue is full.
func (c *streamConn) Send(data string) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.ch <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close marks the connection closed and wakes the pump. Safe to call more
// than once.
func (c *streamConn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// IsClosed reports whether Close has run.
func (c *streamConn) IsClosed() bool {
	return c.closed.Load()
}

// sseEventID extracts the id field from rendered SSE framing. Synthetic
// events carry no id line and return empty.
func sseEventID(rendered string) string {
	for _, line := range strings.Split(rendered, "\n") {
		if strings.HasPrefix(line, "id: ") {
			return strings.TrimPrefix(line, "id: ")
		}
	}
	return ""
}

// handleGet opens the SSE stream for a session: replays missed events when
// Last-Event-ID is present, announces the connection, then pumps live
// events and heartbeats until either side closes.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	sess, ok := h.server.Sessions().Get(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Last-Event-ID")
	w.Header().Set(MCPProtocolVersionHeader, mcp.ProtocolVersion)
	w.Header().Set(MCPSessionIDHeader, sess.ID)
	w.WriteHeader(http.StatusOK)

	conn := newStreamConn()
	h.server.Sessions().SetStreaming(sess, conn)
	if h.metrics != nil {
		h.metrics.SSEStreams.Inc()
	}
	logger := LoggerFromContext(r.Context()).With("session_id", sess.ID)
	logger.Debug("sse stream opened")

	defer func() {
		_ = conn.Close()
		h.server.Sessions().RemoveStreaming(sess, conn)
		if h.metrics != nil {
			h.metrics.SSEStreams.Dec()
		}
		logger.Debug("sse stream closed")
	}()

	// Replayed events strictly precede anything produced on the live
	// stream. The stream is already bound, so an event stored between the
	// bind and this snapshot is both replayed here and queued on conn.ch;
	// the replayed set suppresses the queued copy so no id is delivered
	// twice.
	var replayed map[string]struct{}
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		events := h.server.Events().After(lastID)
		if len(events) > 0 {
			replayed = make(map[string]struct{}, len(events))
		}
		for _, evt := range events {
			if _, err := fmt.Fprint(w, evt.Render()); err != nil {
				return
			}
			replayed[evt.ID] = struct{}{}
		}
		flusher.Flush()
	}

	// The connection event is synthetic: it carries no id so it never
	// disturbs the client's Last-Event-ID tracking.
	if _, err := fmt.Fprintf(w, "event: connection\ndata: {\"status\":\"connected\"}\n\n"); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.done:
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, "event: heartbeat\ndata: %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
				return
			}
			flusher.Flush()
		case evt := <-conn.ch:
			if id := sseEventID(evt); id != "" {
				if _, dup := replayed[id]; dup {
					delete(replayed, id)
					continue
				}
			}
			if _, err := fmt.Fprint(w, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
