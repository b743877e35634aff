// Package middleware implements the priority-ordered hook pipeline that
// wraps every operation the dispatcher runs.
package middleware

import (
	"fmt"
	"time"

	"github.com/openmcpd/openmcpd/internal/domain/session"
)

// HookType identifies a lifecycle point hooks can attach to.
type HookType string

// Hook types. The before/after/on-error triples are operation-scoped; the
// request/response/transport-error hooks are generic and match every
// operation.
const (
	HookBeforeToolCall HookType = "before_tool_call"
	HookAfterToolCall  HookType = "after_tool_call"
	HookOnToolError    HookType = "on_tool_error"

	HookBeforeResourceRead HookType = "before_resource_read"
	HookAfterResourceRead  HookType = "after_resource_read"
	HookOnResourceError    HookType = "on_resource_error"

	HookBeforePromptGet HookType = "before_prompt_get"
	HookAfterPromptGet  HookType = "after_prompt_get"
	HookOnPromptError   HookType = "on_prompt_error"

	HookBeforeSampling HookType = "before_sampling"
	HookAfterSampling  HookType = "after_sampling"
	HookOnSamplingError HookType = "on_sampling_error"

	HookOnAuthenticate HookType = "on_authenticate"

	HookBeforeRequest    HookType = "before_request"
	HookAfterResponse    HookType = "after_response"
	HookOnTransportError HookType = "on_transport_error"
)

// OperationType classifies the operation a context describes.
type OperationType string

// Operation types.
const (
	OpToolCall       OperationType = "tool_call"
	OpResourceRead   OperationType = "resource_read"
	OpPromptGet      OperationType = "prompt_get"
	OpSampling       OperationType = "sampling"
	OpAuthentication OperationType = "authentication"
	OpGeneric        OperationType = "generic"
)

// hookOps maps operation-scoped hook types to the single operation type
// they fire for. Hook types absent from the table are generic.
var hookOps = map[HookType]OperationType{
	HookBeforeToolCall:     OpToolCall,
	HookAfterToolCall:      OpToolCall,
	HookOnToolError:        OpToolCall,
	HookBeforeResourceRead: OpResourceRead,
	HookAfterResourceRead:  OpResourceRead,
	HookOnResourceError:    OpResourceRead,
	HookBeforePromptGet:    OpPromptGet,
	HookAfterPromptGet:     OpPromptGet,
	HookOnPromptError:      OpPromptGet,
	HookBeforeSampling:     OpSampling,
	HookAfterSampling:      OpSampling,
	HookOnSamplingError:    OpSampling,
	HookOnAuthenticate:     OpAuthentication,
}

// MatchesOperation reports whether the hook type fires for the operation.
func (h HookType) MatchesOperation(op OperationType) bool {
	want, scoped := hookOps[h]
	if !scoped {
		return true
	}
	return want == op
}

// Context flows down a hook chain. Hooks may set Result, Err, Metadata, or
// SkipRemaining; Params is deep-copied at construction and must not be
// mutated.
type Context struct {
	OperationType OperationType
	OperationName string

	// Session is the session the operation runs under; nil for
	// operations without one.
	Session *session.Session
	// Server is an opaque handle to the owning server, exposed so hooks
	// can reach shared services.
	Server any
	// User is the authenticated user record, when authentication ran.
	User map[string]any

	// Metadata is scratch space shared along the chain.
	Metadata map[string]any
	// Result is the operation outcome, bound after the handler runs.
	Result any
	// Err is the operation or chain error.
	Err error
	// SkipRemaining stops the chain when set by a hook.
	SkipRemaining bool

	params map[string]any
}

// NewContext builds a hook context, deep-copying params.
func NewContext(op OperationType, name string, params map[string]any) *Context {
	return &Context{
		OperationType: op,
		OperationName: name,
		Metadata:      make(map[string]any),
		params:        deepCopyMap(params),
	}
}

// Params returns the frozen operation parameters. Callers must treat the
// returned map as read-only.
func (c *Context) Params() map[string]any { return c.params }

// UserID returns the authenticated user's id, empty when unauthenticated.
func (c *Context) UserID() string {
	if c.User == nil {
		return ""
	}
	id, _ := c.User["id"].(string)
	return id
}

// Timing records how a chain execution went; attached to the context
// metadata under "middleware_timing".
type Timing struct {
	HookType      HookType
	Elapsed       time.Duration
	ExecutedCount int
	TotalCount    int
}

// Error aborts a hook chain when returned by any hook, critical or not.
type Error struct {
	Middleware string
	Hook       HookType
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("middleware %s failed in %s: %v", e.Middleware, e.Hook, e.Err)
}

// Unwrap exposes the wrapped error.
func (e *Error) Unwrap() error { return e.Err }

// deepCopyMap copies nested maps and slices so hooks cannot mutate the
// caller's params.
func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
