package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/openmcpd/openmcpd/internal/domain/command"
	"github.com/openmcpd/openmcpd/internal/domain/security"
)

// commandTimeout is how long a tool-facing endpoint blocks for a result.
const commandTimeout = 30 * time.Second

// extensionLiveness is how recent the last ping must be for the extension
// to count as connected.
const extensionLiveness = 30 * time.Second

// Bridge serves the /browser/ endpoints: the extension side (ping, poll,
// result) and the tool-facing command endpoints that enqueue work and block
// for its completion.
type Bridge struct {
	queue    *command.Queue
	security *security.Middleware
	metrics  *Metrics
	logger   *slog.Logger

	// lastPing is the unix-nano time of the extension's last ping or poll.
	lastPing atomic.Int64
}

// NewBridge creates a Bridge over the given queue. security may be nil.
func NewBridge(queue *command.Queue, sec *security.Middleware, metrics *Metrics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		queue:    queue,
		security: sec,
		metrics:  metrics,
		logger:   logger,
	}
}

// Connected reports whether the extension has pinged recently.
func (b *Bridge) Connected() bool {
	last := b.lastPing.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) <= extensionLiveness
}

// ServeHTTP routes /browser/ subpaths.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/browser/")
	switch action {
	case "ping":
		b.handlePing(w, r)
	case "poll":
		b.handlePoll(w, r)
	case "result":
		b.handleResult(w, r)
	default:
		b.handleCommand(w, r, command.Action(action))
	}
}

// handlePing records extension liveness.
func (b *Bridge) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	b.touch()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handlePoll drains pending commands for the extension. Polling also counts
// as liveness.
func (b *Bridge) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	b.touch()
	writeJSON(w, http.StatusOK, map[string]any{"commands": b.queue.DrainPending()})
}

// handleResult routes a completion from the extension to its waiter.
func (b *Bridge) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var body command.Completion
	if err := decodeJSONBody(r, &body); err != nil || body.CommandID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid result payload"})
		return
	}
	b.queue.Complete(body.CommandID, body.Success, body.Result, body.Error)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleCommand enqueues a browser command and blocks for its result.
func (b *Bridge) handleCommand(w http.ResponseWriter, r *http.Request, action command.Action) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !action.IsValid() {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if b.security != nil {
		res := b.security.ProcessRequest(r.Context(), securityRequest(r), string(action), nil)
		if !res.Success {
			b.count(action, "error")
			message := "Authentication required"
			if res.Code == security.CodeAuthorizationFailed {
				message = "Authorization failed"
			}
			writeJSON(w, res.HTTPStatus, map[string]any{"error": message})
			return
		}
	}

	if !b.Connected() {
		b.count(action, "disconnected")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Chrome extension not connected"})
		return
	}

	var params map[string]any
	if err := decodeJSONBody(r, &params); err != nil {
		b.count(action, "error")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	cmd := command.New(action, params)
	b.queue.Enqueue(cmd)
	b.logger.Debug("browser command enqueued", "action", string(action), "command_id", cmd.ID)

	rec, err := b.queue.Wait(r.Context(), cmd.ID, commandTimeout)
	if err != nil {
		if errors.Is(err, command.ErrTimeout) {
			b.count(action, "timeout")
			writeJSON(w, http.StatusRequestTimeout, map[string]any{"error": "command timed out"})
			return
		}
		// Client went away while waiting.
		b.count(action, "error")
		return
	}

	b.count(action, "ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": rec.Success,
		"result":  rec.Result,
		"error":   rec.Error,
	})
}

func (b *Bridge) touch() {
	b.lastPing.Store(time.Now().UnixNano())
}

func (b *Bridge) count(action command.Action, outcome string) {
	if b.metrics != nil {
		b.metrics.BridgeCommands.WithLabelValues(string(action), outcome).Inc()
	}
}

// decodeJSONBody parses a bounded JSON body. An empty body decodes to the
// zero value.
func decodeJSONBody(r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxRequestBodySize))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
