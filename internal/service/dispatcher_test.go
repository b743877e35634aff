package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/openmcpd/openmcpd/internal/domain/middleware"
	"github.com/openmcpd/openmcpd/internal/domain/session"
	"github.com/openmcpd/openmcpd/pkg/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *middleware.Manager) {
	t.Helper()
	mw := middleware.NewManager(testLogger())
	d := NewDispatcher(mw, testLogger(), WithServerInfo(ServerInfo{Name: "test", Version: "0.0.0"}))
	return d, mw
}

func newTestSession() *session.Session {
	m := session.NewManager(session.Config{}, testLogger())
	return m.Create("", nil)
}

func initializedSession(t *testing.T, d *Dispatcher) *session.Session {
	t.Helper()
	sess := newTestSession()
	msg := wrap(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"t","version":"1"}}}`)
	if _, perr := d.Dispatch(context.Background(), sess, msg); perr != nil {
		t.Fatalf("initialize failed: %v", perr)
	}
	return sess
}

func wrap(t *testing.T, raw string) *mcp.Message {
	t.Helper()
	msg, err := mcp.WrapMessage([]byte(raw))
	if err != nil {
		t.Fatalf("WrapMessage(%s): %v", raw, err)
	}
	return msg
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  map[string]any  `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeReply(t *testing.T, data []byte) rpcReply {
	t.Helper()
	var r rpcReply
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decode reply %s: %v", data, err)
	}
	return r
}

func TestInitializeHandshake(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := newTestSession()

	msg := wrap(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"client","version":"2"}}}`)
	reply, perr := d.Dispatch(context.Background(), sess, msg)
	if perr != nil {
		t.Fatalf("perr = %v", perr)
	}

	r := decodeReply(t, reply)
	if r.Result["protocolVersion"] != mcp.ProtocolVersion {
		t.Errorf("protocolVersion = %v", r.Result["protocolVersion"])
	}
	info := r.Result["serverInfo"].(map[string]any)
	if info["name"] != "test" {
		t.Errorf("serverInfo = %v", info)
	}
	if done, _ := sess.Meta("initialized").(bool); !done {
		t.Error("session not marked initialized")
	}
	client, _ := sess.Meta("client_info").(map[string]any)
	if client["name"] != "client" {
		t.Errorf("client_info = %v", client)
	}
}

func TestMethodsGatedUntilInitialized(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("tools/list", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		return map[string]any{"tools": []any{}}, nil
	})
	sess := newTestSession()

	reply, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	if perr == nil || perr.Code != mcp.CodeNotInitialized {
		t.Fatalf("perr = %v, want -32002", perr)
	}
	r := decodeReply(t, reply)
	if r.Error == nil || r.Error.Code != mcp.CodeNotInitialized {
		t.Errorf("reply = %s", reply)
	}
}

func TestPingAllowedBeforeInitialize(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := newTestSession()

	reply, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":3,"method":"ping"}`))
	if perr != nil {
		t.Fatalf("perr = %v", perr)
	}
	r := decodeReply(t, reply)
	if r.Error != nil {
		t.Errorf("reply = %s", reply)
	}
}

func TestMethodNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := initializedSession(t, d)

	reply, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":4,"method":"tools/vanish"}`))
	if perr == nil || perr.Code != mcp.CodeMethodNotFound {
		t.Fatalf("perr = %v", perr)
	}
	r := decodeReply(t, reply)
	if string(r.ID) != "4" {
		t.Errorf("id = %s, reply must mirror the request id", r.ID)
	}
}

func TestNotificationProducesNoReply(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := newTestSession()

	reply, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if reply != nil || perr != nil {
		t.Errorf("reply=%s perr=%v, notifications get no reply", reply, perr)
	}

	// Even an unknown notification stays silent.
	reply, perr = d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","method":"notifications/unknown"}`))
	if reply != nil || perr != nil {
		t.Errorf("reply=%s perr=%v for unknown notification", reply, perr)
	}
}

func TestHandlerTypedError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("tools/call", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		return nil, mcp.InvalidParams("missing name")
	})
	sess := initializedSession(t, d)

	_, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{}}`))
	if perr == nil || perr.Code != mcp.CodeInvalidParams {
		t.Errorf("perr = %v", perr)
	}
}

func TestHandlerPlainErrorBecomesInternal(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("tools/call", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		return nil, errors.New("database exploded")
	})
	sess := initializedSession(t, d)

	reply, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"x"}}`))
	if perr == nil || perr.Code != mcp.CodeInternalError {
		t.Fatalf("perr = %v", perr)
	}
	r := decodeReply(t, reply)
	if r.Error.Message != "Internal error" {
		t.Errorf("message = %q, internals must not leak", r.Error.Message)
	}
}

func TestHandlerPanicContained(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("tools/call", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		panic("boom")
	})
	sess := initializedSession(t, d)

	_, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"x"}}`))
	if perr == nil || perr.Code != mcp.CodeInternalError {
		t.Errorf("perr = %v", perr)
	}
}

func TestToolCallHookOrder(t *testing.T) {
	d, mw := newTestDispatcher(t)
	d.Register("tools/call", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	var order []string
	note := func(name string) middleware.Func {
		return func(ctx context.Context, mc *middleware.Context) error {
			order = append(order, name)
			return nil
		}
	}
	mw.Register("br", middleware.HookBeforeRequest, 0, middleware.Conditions{}, note("before_request"))
	mw.Register("bt", middleware.HookBeforeToolCall, 0, middleware.Conditions{}, note("before_tool_call"))
	mw.Register("at", middleware.HookAfterToolCall, 0, middleware.Conditions{}, note("after_tool_call"))
	mw.Register("ar", middleware.HookAfterResponse, 0, middleware.Conditions{}, note("after_response"))

	sess := initializedSession(t, d)
	order = nil // drop hooks fired during initialize

	_, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"search"}}`))
	if perr != nil {
		t.Fatalf("perr = %v", perr)
	}

	want := []string{"before_request", "before_tool_call", "after_tool_call", "after_response"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestCriticalBeforeHookBlocksHandler(t *testing.T) {
	d, mw := newTestDispatcher(t)
	handlerRan := false
	d.Register("tools/call", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		handlerRan = true
		return nil, nil
	})
	mw.Register("deny", middleware.HookBeforeToolCall, 0, middleware.Conditions{Critical: true},
		func(ctx context.Context, mc *middleware.Context) error {
			return errors.New("blocked by policy")
		})

	errorHookRan := false
	mw.Register("observer", middleware.HookOnToolError, 0, middleware.Conditions{},
		func(ctx context.Context, mc *middleware.Context) error {
			errorHookRan = true
			return nil
		})

	sess := initializedSession(t, d)
	_, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"rm"}}`))
	if perr == nil {
		t.Fatal("blocked call returned no error")
	}
	if handlerRan {
		t.Error("handler ran despite critical before-hook failure")
	}
	if !errorHookRan {
		t.Error("error hook did not fire")
	}
}

func TestAfterHookCanReplaceResult(t *testing.T) {
	d, mw := newTestDispatcher(t)
	d.Register("tools/call", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		return map[string]any{"secret": "raw"}, nil
	})
	mw.Register("redact", middleware.HookAfterToolCall, 0, middleware.Conditions{},
		func(ctx context.Context, mc *middleware.Context) error {
			mc.Result = map[string]any{"secret": "[redacted]"}
			return nil
		})

	sess := initializedSession(t, d)
	reply, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"x"}}`))
	if perr != nil {
		t.Fatalf("perr = %v", perr)
	}
	r := decodeReply(t, reply)
	if r.Result["secret"] != "[redacted]" {
		t.Errorf("result = %v, after hook replacement lost", r.Result)
	}
}

func TestOperationNameFromParams(t *testing.T) {
	d, mw := newTestDispatcher(t)
	d.Register("tools/call", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		return nil, nil
	})

	var seen []string
	mw.Register("names", middleware.HookBeforeToolCall, 0, middleware.Conditions{OnlyOperations: []string{"search"}},
		func(ctx context.Context, mc *middleware.Context) error {
			seen = append(seen, mc.OperationName)
			return nil
		})

	sess := initializedSession(t, d)
	for _, params := range []string{`{"name":"search"}`, `{"name":"delete"}`} {
		raw := `{"jsonrpc":"2.0","id":11,"method":"tools/call","params":` + params + `}`
		if _, perr := d.Dispatch(context.Background(), sess, wrap(t, raw)); perr != nil {
			t.Fatalf("perr = %v", perr)
		}
	}
	if len(seen) != 1 || seen[0] != "search" {
		t.Errorf("seen = %v, condition gating by tool name failed", seen)
	}
}

func TestDispatchResponseMessageRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := newTestSession()

	msg := wrap(t, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	_, perr := d.Dispatch(context.Background(), sess, msg)
	if perr == nil || perr.Code != mcp.CodeInvalidRequest {
		t.Errorf("perr = %v, want -32600", perr)
	}
}

func TestUserFromSessionReachesHooks(t *testing.T) {
	d, mw := newTestDispatcher(t)
	d.Register("tools/call", func(ctx context.Context, sess *session.Session, params map[string]any) (any, error) {
		return nil, nil
	})

	var gotUser string
	mw.Register("who", middleware.HookBeforeToolCall, 0, middleware.Conditions{},
		func(ctx context.Context, mc *middleware.Context) error {
			gotUser = mc.UserID()
			return nil
		})

	sess := initializedSession(t, d)
	sess.SetMeta("user", map[string]any{"id": "alice"})

	if _, perr := d.Dispatch(context.Background(), sess, wrap(t, `{"jsonrpc":"2.0","id":12,"method":"tools/call","params":{"name":"x"}}`)); perr != nil {
		t.Fatalf("perr = %v", perr)
	}
	if gotUser != "alice" {
		t.Errorf("user id = %q", gotUser)
	}
}
