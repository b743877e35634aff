package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		code int
		want int
	}{
		{"parse error", CodeParseError, http.StatusBadRequest},
		{"invalid request", CodeInvalidRequest, http.StatusBadRequest},
		{"invalid params", CodeInvalidParams, http.StatusBadRequest},
		{"not initialized", CodeNotInitialized, http.StatusBadRequest},
		{"method not found", CodeMethodNotFound, http.StatusNotFound},
		{"not found", CodeNotFound, http.StatusNotFound},
		{"internal error", CodeInternalError, http.StatusInternalServerError},
		{"server error low", CodeServerError, http.StatusInternalServerError},
		{"server error high", -32099, http.StatusInternalServerError},
		{"server error mid", -32050, http.StatusInternalServerError},
		{"application code", 1001, http.StatusOK},
		{"negative application code", -1, http.StatusOK},
		{"zero", 0, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.code); got != tt.want {
				t.Errorf("HTTPStatus(%d) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantCode int
	}{
		{"parse", ParseError("bad json"), CodeParseError},
		{"invalid request", InvalidRequest("nope"), CodeInvalidRequest},
		{"method not found", MethodNotFound("tools/frobnicate"), CodeMethodNotFound},
		{"invalid params", InvalidParams("missing name"), CodeInvalidParams},
		{"internal", InternalError(), CodeInternalError},
		{"not found", NotFound("no session"), CodeNotFound},
		{"not initialized", NotInitialized(), CodeNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestMethodNotFoundIncludesMethod(t *testing.T) {
	err := MethodNotFound("tools/list")
	if got := err.Message; got != "Method not found: tools/list" {
		t.Errorf("message = %q", got)
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	err := InternalError()
	if err.Message != "Internal error" {
		t.Errorf("message = %q, must not leak internals", err.Message)
	}
}

func TestAsError(t *testing.T) {
	base := NotFound("gone")

	if got := AsError(base); got != base {
		t.Errorf("AsError(base) = %v, want the same error", got)
	}
	wrapped := fmt.Errorf("handler failed: %w", base)
	if got := AsError(wrapped); got != base {
		t.Errorf("AsError(wrapped) = %v, want unwrapped base", got)
	}
	if got := AsError(errors.New("plain")); got != nil {
		t.Errorf("AsError(plain) = %v, want nil", got)
	}
	if got := AsError(nil); got != nil {
		t.Errorf("AsError(nil) = %v, want nil", got)
	}
}
