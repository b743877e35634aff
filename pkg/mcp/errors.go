package mcp

import (
	"errors"
	"fmt"
	"net/http"
)

// JSON-RPC 2.0 error codes used by the transport layer.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Implementation-defined server errors (-32000..-32099).
	CodeServerError    = -32000
	CodeNotFound       = -32001
	CodeNotInitialized = -32002
)

// Error is a typed protocol error carrying a JSON-RPC error code.
// Transports serialize it to a JSON-RPC error object and map the code
// to an HTTP status via HTTPStatus.
type Error struct {
	Code    int
	Message string
	Data    any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates a protocol error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a protocol error with a formatted message.
func NewErrorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ParseError returns a -32700 error.
func ParseError(message string) *Error {
	return NewError(CodeParseError, message)
}

// InvalidRequest returns a -32600 error.
func InvalidRequest(message string) *Error {
	return NewError(CodeInvalidRequest, message)
}

// MethodNotFound returns a -32601 error for the given method.
func MethodNotFound(method string) *Error {
	return NewErrorf(CodeMethodNotFound, "Method not found: %s", method)
}

// InvalidParams returns a -32602 error.
func InvalidParams(message string) *Error {
	return NewError(CodeInvalidParams, message)
}

// InternalError returns a -32603 error. The original error message is not
// included; callers log it separately to avoid leaking internals to clients.
func InternalError() *Error {
	return NewError(CodeInternalError, "Internal error")
}

// NotFound returns a -32001 error.
func NotFound(message string) *Error {
	return NewError(CodeNotFound, message)
}

// NotInitialized returns a -32002 error.
func NotInitialized() *Error {
	return NewError(CodeNotInitialized, "Server not initialized")
}

// AsError extracts a typed protocol error from an error chain.
// Returns nil if err does not wrap an *Error.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}

// HTTPStatus maps a JSON-RPC error code to the HTTP status the streamable
// transport responds with. Application-defined codes outside the reserved
// range return 200: the JSON-RPC error body is the reply, not an HTTP failure.
func HTTPStatus(code int) int {
	switch code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return http.StatusBadRequest
	case CodeMethodNotFound:
		return http.StatusNotFound
	case CodeInternalError:
		return http.StatusInternalServerError
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotInitialized:
		return http.StatusBadRequest
	}
	if code <= CodeServerError && code >= -32099 {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}
