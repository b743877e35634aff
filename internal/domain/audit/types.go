// Package audit contains domain types for the request audit trail.
package audit

import (
	"context"
	"strings"
	"time"
)

// Outcome constants for audit records.
const (
	// OutcomeOK indicates the request completed with a result.
	OutcomeOK = "ok"
	// OutcomeError indicates the request completed with a JSON-RPC error.
	OutcomeError = "error"
	// OutcomeDenied indicates the request was rejected by authentication
	// or authorization before reaching a handler.
	OutcomeDenied = "denied"
)

// Record is one auditable request.
type Record struct {
	// Timestamp is when the request was received.
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates the record with transport logs.
	RequestID string `json:"request_id"`
	// SessionID of the session the request ran under.
	SessionID string `json:"session_id,omitempty"`
	// Method is the JSON-RPC method name.
	Method string `json:"method"`
	// Operation is the resolved operation name (tool name, resource uri)
	// when the method targets a capability.
	Operation string `json:"operation,omitempty"`
	// Transport identifies the transport the request arrived on.
	Transport string `json:"transport,omitempty"`
	// UserID of the authenticated user, empty when anonymous.
	UserID string `json:"user_id,omitempty"`
	// RemoteAddr of the client when known.
	RemoteAddr string `json:"remote_addr,omitempty"`
	// Outcome is ok, error, or denied.
	Outcome string `json:"outcome"`
	// ErrorCode is the JSON-RPC error code for error outcomes.
	ErrorCode int `json:"error_code,omitempty"`
	// DurationMicros is the handler latency in microseconds.
	DurationMicros int64 `json:"duration_micros"`
	// Params are the request parameters, redacted of sensitive values.
	Params map[string]any `json:"params,omitempty"`
}

// Store persists audit records. Implementations handle batching; Append
// must not block the request hot path for long.
type Store interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// sensitiveKeywords lists substrings that mark an argument key as
// sensitive. Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactParams returns a copy of params with sensitive values masked.
func RedactParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return params
	}
	redacted := make(map[string]any, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
