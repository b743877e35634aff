package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteOrdersByPriorityThenInsertion(t *testing.T) {
	m := NewManager(testLogger())

	var order []string
	record := func(name string) Func {
		return func(ctx context.Context, mc *Context) error {
			order = append(order, name)
			return nil
		}
	}

	// Registered out of order: two with equal priority must keep their
	// insertion order.
	m.Register("second-50", HookBeforeToolCall, 50, Conditions{}, record("second-50"))
	m.Register("p200", HookBeforeToolCall, 200, Conditions{}, record("p200"))
	m.Register("p100", HookBeforeToolCall, 100, Conditions{}, record("p100"))
	m.Register("fourth-50", HookBeforeToolCall, 50, Conditions{}, record("fourth-50"))

	mc := NewContext(OpToolCall, "search", nil)
	if err := m.Execute(context.Background(), HookBeforeToolCall, mc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []string{"second-50", "fourth-50", "p100", "p200"}
	if len(order) != len(want) {
		t.Fatalf("executed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestDefaultPriority(t *testing.T) {
	m := NewManager(testLogger())

	var order []string
	m.Register("defaulted", HookBeforeRequest, 0, Conditions{}, func(ctx context.Context, mc *Context) error {
		order = append(order, "defaulted")
		return nil
	})
	m.Register("early", HookBeforeRequest, 10, Conditions{}, func(ctx context.Context, mc *Context) error {
		order = append(order, "early")
		return nil
	})

	mc := NewContext(OpGeneric, "", nil)
	_ = m.Execute(context.Background(), HookBeforeRequest, mc)
	if len(order) != 2 || order[0] != "early" {
		t.Errorf("order = %v, zero priority should become %d", order, DefaultPriority)
	}
}

func TestSkipRemainingStopsChain(t *testing.T) {
	m := NewManager(testLogger())

	var ran []string
	m.Register("first", HookBeforeToolCall, 10, Conditions{}, func(ctx context.Context, mc *Context) error {
		ran = append(ran, "first")
		mc.SkipRemaining = true
		return nil
	})
	m.Register("second", HookBeforeToolCall, 20, Conditions{}, func(ctx context.Context, mc *Context) error {
		ran = append(ran, "second")
		return nil
	})

	mc := NewContext(OpToolCall, "x", nil)
	if err := m.Execute(context.Background(), HookBeforeToolCall, mc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ran) != 1 || ran[0] != "first" {
		t.Errorf("ran = %v, want only first", ran)
	}
}

func TestOperationScopedHookSkipsOtherOps(t *testing.T) {
	m := NewManager(testLogger())

	ran := false
	m.Register("tool-only", HookBeforeToolCall, 0, Conditions{}, func(ctx context.Context, mc *Context) error {
		ran = true
		return nil
	})

	mc := NewContext(OpResourceRead, "file:///x", nil)
	_ = m.Execute(context.Background(), HookBeforeToolCall, mc)
	if ran {
		t.Error("tool hook ran for a resource read")
	}
}

func TestGenericHookRunsForEveryOperation(t *testing.T) {
	m := NewManager(testLogger())

	count := 0
	m.Register("generic", HookBeforeRequest, 0, Conditions{}, func(ctx context.Context, mc *Context) error {
		count++
		return nil
	})

	for _, op := range []OperationType{OpToolCall, OpResourceRead, OpGeneric} {
		mc := NewContext(op, "x", nil)
		_ = m.Execute(context.Background(), HookBeforeRequest, mc)
	}
	if count != 3 {
		t.Errorf("generic hook ran %d times, want 3", count)
	}
}

func TestConditionsOnlyOperations(t *testing.T) {
	m := NewManager(testLogger())

	var ran []string
	m.Register("gated", HookBeforeToolCall, 0, Conditions{OnlyOperations: []string{"search"}}, func(ctx context.Context, mc *Context) error {
		ran = append(ran, mc.OperationName)
		return nil
	})

	for _, name := range []string{"search", "delete"} {
		mc := NewContext(OpToolCall, name, nil)
		_ = m.Execute(context.Background(), HookBeforeToolCall, mc)
	}
	if len(ran) != 1 || ran[0] != "search" {
		t.Errorf("ran = %v, want [search]", ran)
	}
}

func TestConditionsExceptUsers(t *testing.T) {
	m := NewManager(testLogger())

	count := 0
	m.Register("not-bob", HookBeforeToolCall, 0, Conditions{ExceptUsers: []string{"bob"}}, func(ctx context.Context, mc *Context) error {
		count++
		return nil
	})

	for _, user := range []string{"alice", "bob", ""} {
		mc := NewContext(OpToolCall, "x", nil)
		if user != "" {
			mc.User = map[string]any{"id": user}
		}
		_ = m.Execute(context.Background(), HookBeforeToolCall, mc)
	}
	// alice and the anonymous request run; bob is excluded.
	if count != 2 {
		t.Errorf("hook ran %d times, want 2", count)
	}
}

func TestNonCriticalErrorContinuesChain(t *testing.T) {
	m := NewManager(testLogger())

	ran := false
	m.Register("flaky", HookBeforeToolCall, 10, Conditions{}, func(ctx context.Context, mc *Context) error {
		return errors.New("transient")
	})
	m.Register("after", HookBeforeToolCall, 20, Conditions{}, func(ctx context.Context, mc *Context) error {
		ran = true
		return nil
	})

	mc := NewContext(OpToolCall, "x", nil)
	if err := m.Execute(context.Background(), HookBeforeToolCall, mc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ran {
		t.Error("chain stopped on non-critical error")
	}
	if mc.Err != nil {
		t.Errorf("mc.Err = %v, want nil", mc.Err)
	}
}

func TestCriticalErrorAbortsChain(t *testing.T) {
	m := NewManager(testLogger())

	ran := false
	m.Register("guard", HookBeforeToolCall, 10, Conditions{Critical: true}, func(ctx context.Context, mc *Context) error {
		return errors.New("denied")
	})
	m.Register("after", HookBeforeToolCall, 20, Conditions{}, func(ctx context.Context, mc *Context) error {
		ran = true
		return nil
	})

	mc := NewContext(OpToolCall, "x", nil)
	err := m.Execute(context.Background(), HookBeforeToolCall, mc)
	if err == nil {
		t.Fatal("Execute returned nil for critical failure")
	}
	if ran {
		t.Error("chain continued past critical error")
	}
	var mwErr *Error
	if !errors.As(err, &mwErr) {
		t.Errorf("err = %T, want *middleware.Error", err)
	}
	if mc.Err == nil {
		t.Error("mc.Err not set")
	}
}

func TestMiddlewareErrorAbortsWithoutCriticalFlag(t *testing.T) {
	m := NewManager(testLogger())

	m.Register("typed", HookBeforeToolCall, 0, Conditions{}, func(ctx context.Context, mc *Context) error {
		return &Error{Middleware: "typed", Hook: HookBeforeToolCall, Err: errors.New("abort")}
	})

	mc := NewContext(OpToolCall, "x", nil)
	if err := m.Execute(context.Background(), HookBeforeToolCall, mc); err == nil {
		t.Error("typed middleware error did not abort chain")
	}
}

func TestPanicBecomesError(t *testing.T) {
	m := NewManager(testLogger())

	ran := false
	m.Register("bomb", HookBeforeToolCall, 10, Conditions{}, func(ctx context.Context, mc *Context) error {
		panic("boom")
	})
	m.Register("after", HookBeforeToolCall, 20, Conditions{}, func(ctx context.Context, mc *Context) error {
		ran = true
		return nil
	})

	mc := NewContext(OpToolCall, "x", nil)
	if err := m.Execute(context.Background(), HookBeforeToolCall, mc); err != nil {
		t.Fatalf("non-critical panic aborted chain: %v", err)
	}
	if !ran {
		t.Error("chain stopped after recovered panic")
	}
}

func TestTimingMetadata(t *testing.T) {
	m := NewManager(testLogger())
	m.Register("one", HookBeforeToolCall, 0, Conditions{}, func(ctx context.Context, mc *Context) error {
		return nil
	})

	mc := NewContext(OpToolCall, "x", nil)
	_ = m.Execute(context.Background(), HookBeforeToolCall, mc)

	timing, ok := mc.Metadata["middleware_timing"].(Timing)
	if !ok {
		t.Fatal("timing metadata missing")
	}
	if timing.ExecutedCount != 1 || timing.TotalCount != 1 {
		t.Errorf("timing = %+v", timing)
	}
	if timing.HookType != HookBeforeToolCall {
		t.Errorf("timing hook = %q", timing.HookType)
	}
}

func TestParamsDeepCopied(t *testing.T) {
	original := map[string]any{
		"name": "search",
		"nested": map[string]any{
			"query": "safe",
		},
	}
	mc := NewContext(OpToolCall, "search", original)

	nested := mc.Params()["nested"].(map[string]any)
	nested["query"] = "mutated"

	if original["nested"].(map[string]any)["query"] != "safe" {
		t.Error("hook mutation leaked into caller params")
	}
}

func TestRegisterMiddleware(t *testing.T) {
	m := NewManager(testLogger())

	calls := make(map[HookType]int)
	mw := &countingMiddleware{calls: calls}
	m.RegisterMiddleware(mw, []HookType{HookBeforeToolCall, HookAfterToolCall}, 0, Conditions{})

	mc := NewContext(OpToolCall, "x", nil)
	_ = m.Execute(context.Background(), HookBeforeToolCall, mc)
	_ = m.Execute(context.Background(), HookAfterToolCall, mc)

	if calls[HookBeforeToolCall] != 1 || calls[HookAfterToolCall] != 1 {
		t.Errorf("calls = %v", calls)
	}
}

type countingMiddleware struct {
	calls map[HookType]int
}

func (c *countingMiddleware) Name() string { return "counting" }

func (c *countingMiddleware) Call(ctx context.Context, hook HookType, mc *Context) error {
	c.calls[hook]++
	return nil
}
