package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultPriority is used when a registration does not specify one. Lower
// numeric priority executes earlier.
const DefaultPriority = 100

// Func is a single hook implementation.
type Func func(ctx context.Context, mc *Context) error

// Generic is the umbrella interface for middlewares that implement one
// dispatch method for every hook type they register.
type Generic interface {
	Name() string
	Call(ctx context.Context, hook HookType, mc *Context) error
}

// Conditions gate whether a registered hook runs for a given context.
type Conditions struct {
	// OnlyOperations restricts the hook to the named operations.
	OnlyOperations []string
	// ExceptOperations skips the hook for the named operations.
	ExceptOperations []string
	// OnlyUsers restricts the hook to the named user ids.
	OnlyUsers []string
	// ExceptUsers skips the hook for the named user ids.
	ExceptUsers []string
	// Critical elevates any error from this hook to a chain abort.
	Critical bool
}

// matches reports whether the hook should run for the context.
func (c Conditions) matches(mc *Context) bool {
	if len(c.OnlyOperations) > 0 && !slices.Contains(c.OnlyOperations, mc.OperationName) {
		return false
	}
	if slices.Contains(c.ExceptOperations, mc.OperationName) {
		return false
	}
	user := mc.UserID()
	if len(c.OnlyUsers) > 0 && !slices.Contains(c.OnlyUsers, user) {
		return false
	}
	if user != "" && slices.Contains(c.ExceptUsers, user) {
		return false
	}
	return true
}

// registration is one hook bound to a hook type.
type registration struct {
	name       string
	hook       HookType
	priority   int
	index      int // insertion order, breaks priority ties
	conditions Conditions
	fn         Func
}

// Manager is the hook registry and execution engine. Registration normally
// happens at startup but stays safe at runtime: execution works on a
// snapshot taken under the read lock.
type Manager struct {
	mu     sync.RWMutex
	hooks  map[HookType][]registration
	nextIx int
	logger *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		hooks:  make(map[HookType][]registration),
		logger: logger,
	}
}

// Register binds fn to a hook type. Hooks run in (priority, registration
// order); a priority <= 0 gets DefaultPriority.
func (m *Manager) Register(name string, hook HookType, priority int, cond Conditions, fn Func) {
	if priority <= 0 {
		priority = DefaultPriority
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := registration{
		name:       name,
		hook:       hook,
		priority:   priority,
		index:      m.nextIx,
		conditions: cond,
		fn:         fn,
	}
	m.nextIx++
	list := append(m.hooks[hook], reg)
	slices.SortStableFunc(list, func(a, b registration) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.index - b.index
	})
	m.hooks[hook] = list
}

// RegisterMiddleware binds a Generic middleware to several hook types at
// once through its umbrella Call method.
func (m *Manager) RegisterMiddleware(mw Generic, hooks []HookType, priority int, cond Conditions) {
	for _, h := range hooks {
		hook := h
		m.Register(mw.Name(), hook, priority, cond, func(ctx context.Context, mc *Context) error {
			return mw.Call(ctx, hook, mc)
		})
	}
}

// Count returns the number of hooks registered for a hook type.
func (m *Manager) Count(hook HookType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[hook])
}

// Execute runs every matching hook for the hook type, in order, until the
// chain ends or a hook sets SkipRemaining. A *middleware.Error, or any
// error from a critical hook, aborts the chain and lands in mc.Err; other
// errors are logged and skipped. Timing metadata is attached afterwards.
func (m *Manager) Execute(ctx context.Context, hook HookType, mc *Context) error {
	m.mu.RLock()
	regs := slices.Clone(m.hooks[hook])
	m.mu.RUnlock()

	start := time.Now()
	executed := 0
	var chainErr error

	for _, reg := range regs {
		if mc.SkipRemaining {
			break
		}
		if !hook.MatchesOperation(mc.OperationType) {
			break
		}
		if !reg.conditions.matches(mc) {
			continue
		}
		err := m.runHook(ctx, reg, mc)
		executed++
		if err == nil {
			continue
		}

		var mwErr *Error
		if errors.As(err, &mwErr) || reg.conditions.Critical {
			if !errors.As(err, &mwErr) {
				err = &Error{Middleware: reg.name, Hook: hook, Err: err}
			}
			mc.Err = err
			chainErr = err
			break
		}
		m.logger.Warn("middleware hook failed, continuing chain",
			"middleware", reg.name, "hook", string(hook), "error", err)
	}

	mc.Metadata["middleware_timing"] = Timing{
		HookType:      hook,
		Elapsed:       time.Since(start),
		ExecutedCount: executed,
		TotalCount:    len(regs),
	}
	return chainErr
}

// runHook invokes one hook, converting panics into errors so a misbehaving
// middleware cannot take down the dispatcher.
func (m *Manager) runHook(ctx context.Context, reg registration, mc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware %s panicked: %v", reg.name, r)
		}
	}()
	return reg.fn(ctx, mc)
}
