// Package service wires the domain layer together: the dispatcher routes
// JSON-RPC methods to handlers around the middleware pipeline, and the
// server facade delivers outbound messages over session streams.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/openmcpd/openmcpd/internal/ctxkey"
	"github.com/openmcpd/openmcpd/internal/domain/middleware"
	"github.com/openmcpd/openmcpd/internal/domain/session"
	"github.com/openmcpd/openmcpd/pkg/mcp"
)

// Handler executes one JSON-RPC method. Params are the decoded request
// params, possibly nil. A returned *mcp.Error is serialized with its own
// code; any other error becomes -32603 with the original logged.
type Handler func(ctx context.Context, sess *session.Session, params map[string]any) (any, error)

// ServerInfo identifies this server in initialize replies.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// metaInitialized marks a session that has completed the initialize
// handshake.
const metaInitialized = "initialized"

// Dispatcher routes JSON-RPC methods to registered handlers, running the
// middleware hook chain around every operation. Handlers are normally
// registered at startup; the registry stays safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	middleware *middleware.Manager
	info       ServerInfo
	logger     *slog.Logger
	tracer     trace.Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTracer sets the tracer used to span every dispatched method.
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithServerInfo sets the identity reported by initialize.
func WithServerInfo(info ServerInfo) DispatcherOption {
	return func(d *Dispatcher) {
		d.info = info
	}
}

// NewDispatcher creates a Dispatcher with the built-in initialize and ping
// handlers registered.
func NewDispatcher(mw *middleware.Manager, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		handlers:   make(map[string]Handler),
		middleware: mw,
		info:       ServerInfo{Name: "openmcpd", Version: "dev"},
		logger:     logger,
		tracer:     noop.NewTracerProvider().Tracer("openmcpd"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.Register("initialize", d.handleInitialize)
	d.Register("ping", d.handlePing)
	d.Register("notifications/initialized", d.handleInitializedNotification)
	return d
}

// Register binds a handler to a method name, replacing any previous one.
func (d *Dispatcher) Register(method string, h Handler) {
	d.mu.Lock()
	d.handlers[method] = h
	d.mu.Unlock()
}

// Handlers returns the registered method names.
func (d *Dispatcher) Handlers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		out = append(out, m)
	}
	return out
}

// Dispatch runs one decoded message through the middleware chain and its
// handler. The reply is the encoded JSON-RPC response, nil for
// notifications. perr is set when the reply carries an error, so transports
// can map it to an HTTP status.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, msg *mcp.Message) (reply []byte, perr *mcp.Error) {
	req := msg.Request()
	if req == nil {
		return d.errorReply(msg, mcp.InvalidRequest("expected a request"))
	}
	method := req.Method
	isNotification := msg.IsNotification()

	ctx, span := d.tracer.Start(ctx, "mcp."+method,
		trace.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.String("mcp.session_id", sessionID(sess)),
		))
	defer span.End()

	logger := d.requestLogger(ctx)
	result, err := d.run(ctx, sess, method, msg.ParseParams())

	if isNotification {
		if err != nil {
			logger.Warn("notification handler failed", "method", method, "error", err)
		}
		return nil, nil
	}
	if err != nil {
		pe := mcp.AsError(err)
		if pe == nil {
			logger.Error("handler failed", "method", method, "error", err)
			pe = mcp.InternalError()
		}
		return d.errorReply(msg, pe)
	}

	data, merr := mcp.MarshalResult(msg.RawID(), result)
	if merr != nil {
		logger.Error("failed to encode response", "method", method, "error", merr)
		return d.errorReply(msg, mcp.InternalError())
	}
	return data, nil
}

// requestLogger returns the transport-enriched logger from the context when
// present, so dispatcher logs carry the request id.
func (d *Dispatcher) requestLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return d.logger
}

// run executes the hook chain and handler for one operation.
func (d *Dispatcher) run(ctx context.Context, sess *session.Session, method string, params map[string]any) (any, error) {
	op, opName := classifyOperation(method, params)

	mc := middleware.NewContext(op, opName, params)
	mc.Session = sess
	mc.Server = d
	if sess != nil {
		if user, ok := sess.Meta("user").(map[string]any); ok {
			mc.User = user
		}
	}

	handler := d.lookup(method)
	if handler == nil {
		return nil, mcp.MethodNotFound(method)
	}
	if err := d.requireInitialized(sess, method); err != nil {
		return nil, err
	}

	scoped := op != middleware.OpGeneric
	if d.middleware != nil {
		d.executeHooks(ctx, middleware.HookBeforeRequest, mc)
		if mc.Err == nil && scoped {
			d.executeHooks(ctx, beforeHook(op), mc)
		}
		if mc.Err != nil {
			if scoped {
				d.executeHooks(ctx, errorHook(op), mc)
			}
			d.executeHooks(ctx, middleware.HookOnTransportError, mc)
			return nil, mc.Err
		}
	}

	result, err := d.invoke(ctx, handler, sess, mc.Params())
	mc.Result = result
	mc.Err = err

	if d.middleware != nil {
		if err != nil {
			if scoped {
				d.executeHooks(ctx, errorHook(op), mc)
			}
			d.executeHooks(ctx, middleware.HookOnTransportError, mc)
		} else {
			if scoped {
				d.executeHooks(ctx, afterHook(op), mc)
			}
			d.executeHooks(ctx, middleware.HookAfterResponse, mc)
			// After hooks may replace the result or veto the call.
			result = mc.Result
			err = mc.Err
		}
	}
	return result, err
}

// invoke runs a handler with panic containment.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, sess *session.Session, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "panic", r)
			result = nil
			err = fmt.Errorf("handler panic: %v: %w", r, mcp.InternalError())
		}
	}()
	return h(ctx, sess, params)
}

// executeHooks runs one hook chain, resetting the skip flag afterwards so it
// scopes to a single chain.
func (d *Dispatcher) executeHooks(ctx context.Context, hook middleware.HookType, mc *middleware.Context) {
	_ = d.middleware.Execute(ctx, hook, mc)
	mc.SkipRemaining = false
}

// requireInitialized gates capability methods behind the initialize
// handshake. initialize, ping, and notifications are always allowed.
func (d *Dispatcher) requireInitialized(sess *session.Session, method string) error {
	switch method {
	case "initialize", "ping", "notifications/initialized":
		return nil
	}
	if sess == nil {
		return nil
	}
	if done, _ := sess.Meta(metaInitialized).(bool); !done {
		return mcp.NotInitialized()
	}
	return nil
}

func (d *Dispatcher) lookup(method string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[method]
}

func (d *Dispatcher) errorReply(msg *mcp.Message, pe *mcp.Error) ([]byte, *mcp.Error) {
	data, err := mcp.MarshalError(msg.RawID(), pe)
	if err != nil {
		d.logger.Error("failed to encode error response", "error", err)
		data = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return data, pe
}

// handleInitialize answers the MCP handshake and marks the session
// initialized.
func (d *Dispatcher) handleInitialize(_ context.Context, sess *session.Session, params map[string]any) (any, error) {
	if sess != nil {
		sess.SetMeta(metaInitialized, true)
		if client, ok := params["clientInfo"].(map[string]any); ok {
			sess.SetMeta("client_info", client)
		}
	}
	return map[string]any{
		"protocolVersion": mcp.ProtocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"listChanged": true},
			"prompts":   map[string]any{"listChanged": true},
			"logging":   map[string]any{},
		},
		"serverInfo": d.info,
	}, nil
}

// handlePing replies with an empty result.
func (d *Dispatcher) handlePing(context.Context, *session.Session, map[string]any) (any, error) {
	return struct{}{}, nil
}

// handleInitializedNotification acknowledges the client's initialized
// notification. No reply is generated for notifications.
func (d *Dispatcher) handleInitializedNotification(context.Context, *session.Session, map[string]any) (any, error) {
	return nil, nil
}

// classifyOperation maps a method name to the operation type its hooks fire
// for, plus the operation name used by middleware conditions.
func classifyOperation(method string, params map[string]any) (middleware.OperationType, string) {
	name := method
	pick := func(key string) string {
		if params == nil {
			return method
		}
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
		return method
	}
	switch method {
	case "tools/call":
		return middleware.OpToolCall, pick("name")
	case "resources/read":
		return middleware.OpResourceRead, pick("uri")
	case "prompts/get":
		return middleware.OpPromptGet, pick("name")
	case "sampling/createMessage":
		return middleware.OpSampling, method
	}
	return middleware.OpGeneric, name
}

func beforeHook(op middleware.OperationType) middleware.HookType {
	switch op {
	case middleware.OpToolCall:
		return middleware.HookBeforeToolCall
	case middleware.OpResourceRead:
		return middleware.HookBeforeResourceRead
	case middleware.OpPromptGet:
		return middleware.HookBeforePromptGet
	case middleware.OpSampling:
		return middleware.HookBeforeSampling
	}
	return middleware.HookBeforeRequest
}

func afterHook(op middleware.OperationType) middleware.HookType {
	switch op {
	case middleware.OpToolCall:
		return middleware.HookAfterToolCall
	case middleware.OpResourceRead:
		return middleware.HookAfterResourceRead
	case middleware.OpPromptGet:
		return middleware.HookAfterPromptGet
	case middleware.OpSampling:
		return middleware.HookAfterSampling
	}
	return middleware.HookAfterResponse
}

func errorHook(op middleware.OperationType) middleware.HookType {
	switch op {
	case middleware.OpToolCall:
		return middleware.HookOnToolError
	case middleware.OpResourceRead:
		return middleware.HookOnResourceError
	case middleware.OpPromptGet:
		return middleware.HookOnPromptError
	case middleware.OpSampling:
		return middleware.HookOnSamplingError
	}
	return middleware.HookOnTransportError
}

func sessionID(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID
}
