package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmcpd/openmcpd/internal/domain/audit"
	"github.com/openmcpd/openmcpd/internal/domain/request"
	"github.com/openmcpd/openmcpd/internal/domain/security"
	"github.com/openmcpd/openmcpd/internal/domain/session"
	"github.com/openmcpd/openmcpd/internal/service"
	"github.com/openmcpd/openmcpd/pkg/mcp"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// MCPSessionIDHeader is the header carrying the session id.
const MCPSessionIDHeader = "Mcp-Session-Id"

// MCPProtocolVersionHeader is the header carrying the protocol version.
const MCPProtocolVersionHeader = "MCP-Protocol-Version"

// Handler serves the /mcp path: POST for client requests, GET for the SSE
// stream, DELETE for termination.
type Handler struct {
	server    *service.Server
	security  *security.Middleware
	audit     *service.AuditService
	metrics   *Metrics
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewHandler creates the MCP path handler. security and auditSvc may be nil.
func NewHandler(server *service.Server, sec *security.Middleware, auditSvc *service.AuditService, metrics *Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server:    server,
		security:  sec,
		audit:     auditSvc,
		metrics:   metrics,
		logger:    logger,
		heartbeat: defaultHeartbeatInterval,
	}
}

// ServeHTTP routes by method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodOptions:
		h.handleOptions(w, r)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost processes one JSON-RPC message from the client.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := LoggerFromContext(r.Context())

	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
		h.writeProtocolError(w, nil, mcp.ParseError("content type must be application/json"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeProtocolError(w, nil, mcp.ParseError("request body too large (max 1MB)"))
			return
		}
		h.writeProtocolError(w, nil, mcp.ParseError("failed to read request body"))
		return
	}
	if len(body) == 0 {
		h.writeProtocolError(w, nil, mcp.ParseError("empty request body"))
		return
	}

	// Authenticate before any session state is touched.
	var user security.User
	if h.security != nil {
		res := h.security.ProcessRequest(r.Context(), securityRequest(r), "", nil)
		if !res.Success {
			h.writeAuthError(w, res)
			return
		}
		user = res.User
	}

	msg, err := mcp.WrapMessage(body)
	if err != nil {
		h.writeProtocolError(w, mcp.ExtractID(body), mcp.ParseError("invalid JSON-RPC message"))
		return
	}

	sess := h.server.Sessions().GetOrCreate(r.Header.Get(MCPSessionIDHeader), requestContext(r))
	if user != nil {
		sess.SetMeta("user", map[string]any(user))
	}

	reply, perr := h.server.Dispatcher().Dispatch(r.Context(), sess, msg)
	h.recordAudit(r, sess, msg, perr, start)

	w.Header().Set(MCPProtocolVersionHeader, mcp.ProtocolVersion)
	w.Header().Set(MCPSessionIDHeader, sess.ID)

	// Notifications generate no reply: 202 Accepted with an empty body.
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	status := http.StatusOK
	if perr != nil {
		status = mcp.HTTPStatus(perr.Code)
		logger.Debug("request failed", "method", msg.Method(), "code", perr.Code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(reply)
}

// handleDelete terminates a session and closes its streaming connection.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	if !h.server.Sessions().Terminate(sessionID) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOptions handles CORS preflight requests.
func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, MCP-Protocol-Version, Last-Event-ID")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// writeProtocolError writes a JSON-RPC error body with the HTTP status its
// code maps to.
func (h *Handler) writeProtocolError(w http.ResponseWriter, id json.RawMessage, perr *mcp.Error) {
	data, err := mcp.MarshalError(id, perr)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(mcp.HTTPStatus(perr.Code))
	_, _ = w.Write(data)
}

// writeAuthError writes the 401/403 body for a failed security result.
func (h *Handler) writeAuthError(w http.ResponseWriter, res security.Result) {
	message := "Authentication required"
	if res.Code == security.CodeAuthorizationFailed {
		message = "Authorization failed"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": res.Code, "message": message},
	})
}

// recordAudit emits one audit record for a dispatched request.
func (h *Handler) recordAudit(r *http.Request, sess *session.Session, msg *mcp.Message, perr *mcp.Error, start time.Time) {
	if h.audit == nil {
		return
	}
	rec := audit.Record{
		Timestamp:      start,
		RequestID:      RequestIDFromContext(r.Context()),
		SessionID:      sess.ID,
		Method:         msg.Method(),
		Transport:      request.TransportHTTPStream,
		RemoteAddr:     RealIPFromContext(r.Context()),
		Outcome:        audit.OutcomeOK,
		DurationMicros: time.Since(start).Microseconds(),
		Params:         audit.RedactParams(msg.ParseParams()),
	}
	if user, ok := sess.Meta("user").(map[string]any); ok {
		rec.UserID, _ = user["id"].(string)
	}
	if perr != nil {
		rec.Outcome = audit.OutcomeError
		rec.ErrorCode = perr.Code
	}
	h.audit.Record(rec)
}

// requestContext builds the immutable per-session request context from an
// HTTP request.
func requestContext(r *http.Request) *request.Context {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	meta := map[string]any{
		request.MetaTransportType: request.TransportHTTPStream,
	}
	if ip := RealIPFromContext(r.Context()); ip != "" {
		meta[request.MetaRemoteAddr] = ip
	} else {
		meta[request.MetaRemoteAddr] = r.RemoteAddr
	}
	return request.New(r.Method, r.URL.Path, headers, params, meta)
}

// securityRequest normalizes an HTTP request for authentication strategies.
func securityRequest(r *http.Request) security.Request {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return security.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Params:     params,
		RemoteAddr: r.RemoteAddr,
	}
}
