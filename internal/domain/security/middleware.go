// Package security implements pluggable authentication strategies and
// opt-in authorization policies for the middleware pipeline.
package security

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/openmcpd/openmcpd/internal/domain/request"
)

// Result codes surfaced by ProcessRequest.
const (
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeAuthorizationFailed    = "AUTHORIZATION_FAILED"
)

// PolicyFunc decides whether user may perform action on resource.
type PolicyFunc func(user User, action string, resource any) bool

// Kinder lets resources declare their nominal kind (tool, resource,
// prompt, root) without reflection.
type Kinder interface {
	Kind() string
}

// Result is the outcome of ProcessRequest.
type Result struct {
	Success    bool
	Code       string
	HTTPStatus int
	User       User
}

// Middleware holds the strategy registry and authorization policies.
// Effectively immutable after configuration; all methods are safe for
// concurrent use.
type Middleware struct {
	mu              sync.RWMutex
	strategies      map[string]Strategy
	defaultStrategy string
	authRequired    bool
	authzEnabled    bool
	policies        map[string]PolicyFunc
	logger          *slog.Logger
}

// NewMiddleware creates a Middleware with no strategies and authorization
// disabled.
func NewMiddleware(logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		strategies: make(map[string]Strategy),
		policies:   make(map[string]PolicyFunc),
		logger:     logger,
	}
}

// AddStrategy registers a strategy. The first registered strategy becomes
// the default.
func (m *Middleware) AddStrategy(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.Name()] = s
	if m.defaultStrategy == "" {
		m.defaultStrategy = s.Name()
	}
}

// SetDefaultStrategy selects which strategy ProcessRequest tries when the
// caller does not override.
func (m *Middleware) SetDefaultStrategy(name string) {
	m.mu.Lock()
	m.defaultStrategy = name
	m.mu.Unlock()
}

// RequireAuth controls whether unauthenticated requests are rejected.
func (m *Middleware) RequireAuth(required bool) {
	m.mu.Lock()
	m.authRequired = required
	m.mu.Unlock()
}

// AuthRequired reports whether authentication is mandatory.
func (m *Middleware) AuthRequired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authRequired
}

// EnableAuthorization turns policy checks on. Policies stay opt-in per
// resource type: a type without a policy is allowed.
func (m *Middleware) EnableAuthorization(enabled bool) {
	m.mu.Lock()
	m.authzEnabled = enabled
	m.mu.Unlock()
}

// AddPolicy installs the policy gating a resource type.
func (m *Middleware) AddPolicy(resourceType string, fn PolicyFunc) {
	m.mu.Lock()
	m.policies[resourceType] = fn
	m.mu.Unlock()
}

// Authenticate runs the named strategy (or the default when name is
// empty). Returns the user record or false.
func (m *Middleware) Authenticate(ctx context.Context, req Request, strategyName string) (User, bool) {
	m.mu.RLock()
	if strategyName == "" {
		strategyName = m.defaultStrategy
	}
	strategy := m.strategies[strategyName]
	m.mu.RUnlock()
	if strategy == nil {
		return nil, false
	}
	return strategy.Authenticate(ctx, req)
}

// Authorize checks user's access to perform action on resource. When
// authorization is disabled or no policy covers the resource type, access
// is allowed. A panicking policy denies.
func (m *Middleware) Authorize(user User, action string, resource any) bool {
	m.mu.RLock()
	enabled := m.authzEnabled
	policy := m.policies[ResourceTypeOf(resource)]
	m.mu.RUnlock()

	if !enabled || policy == nil {
		return true
	}
	return m.runPolicy(policy, user, action, resource)
}

// runPolicy treats policy panics as deny.
func (m *Middleware) runPolicy(policy PolicyFunc, user User, action string, resource any) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("authorization policy panicked, denying", "panic", r)
			allowed = false
		}
	}()
	return policy(user, action, resource)
}

// ProcessRequest authenticates the request and, when an action and
// resource are supplied, authorizes it.
func (m *Middleware) ProcessRequest(ctx context.Context, req Request, action string, resource any) Result {
	user, ok := m.Authenticate(ctx, req, "")
	if !ok && m.AuthRequired() {
		return Result{Code: CodeAuthenticationRequired, HTTPStatus: http.StatusUnauthorized}
	}

	if action != "" && resource != nil {
		if !m.Authorize(user, action, resource) {
			return Result{Code: CodeAuthorizationFailed, HTTPStatus: http.StatusForbidden, User: user}
		}
	}
	return Result{Success: true, HTTPStatus: http.StatusOK, User: user}
}

// NormalizeRequest converts a session request context into the normalized
// form strategies consume.
func NormalizeRequest(rc *request.Context) Request {
	if rc == nil {
		return Request{Headers: map[string]string{}, Params: map[string]string{}}
	}
	return Request{
		Method:     rc.Method(),
		Path:       rc.Path(),
		Headers:    rc.Headers(),
		Params:     rc.Params(),
		RemoteAddr: rc.RemoteAddr(),
	}
}

// ResourceTypeOf infers a resource's nominal kind. Resources implementing
// Kinder are asked directly; otherwise the type-name suffix decides
// (FooTool -> "tool"), defaulting to the lowercased type name.
func ResourceTypeOf(resource any) string {
	if resource == nil {
		return ""
	}
	if k, ok := resource.(Kinder); ok {
		return k.Kind()
	}
	t := reflect.TypeOf(resource)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	for _, suffix := range []string{"Tool", "Resource", "Prompt", "Root"} {
		if strings.HasSuffix(name, suffix) {
			return strings.ToLower(suffix)
		}
	}
	return strings.ToLower(name)
}
