// Package mcp provides JSON-RPC message types, the wire codec, and the
// protocol error taxonomy shared by every transport.
package mcp

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Version is the JSON-RPC version string every message carries.
const Version = "2.0"

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2025-06-18"

// Message wraps a decoded JSON-RPC message together with the raw bytes it
// was parsed from. Raw is kept so transports can echo ids and payload
// fragments without re-encoding.
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded is the parsed JSON-RPC message: either *jsonrpc.Request or
	// *jsonrpc.Response. Nil when parsing failed.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received.
	Timestamp time.Time
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// Request returns the underlying request, or nil if this is not a request.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Method returns the method name for requests, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsNotification reports whether the message is a request without an id.
// Notifications expect no reply.
func (m *Message) IsNotification() bool {
	return m.IsRequest() && m.RawID() == nil
}

// RawID extracts the request id from the raw bytes as json.RawMessage,
// preserving the original form (number, string, or null). Returns nil when
// no id field is present.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	id, ok := raw["id"]
	if !ok || bytes.Equal(id, []byte("null")) {
		return nil
	}
	return id
}

// ParseParams unmarshals the request params into a generic map.
// Returns nil if this is not a request or the params are absent/malformed.
func (m *Message) ParseParams() map[string]any {
	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}
	return params
}

// wireError is the JSON-RPC error object on the wire.
type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// wireResponse is a JSON-RPC response on the wire. Exactly one of Result or
// Error is set.
type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

// wireRequest is a JSON-RPC request or notification on the wire.
type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  any             `json:"params,omitempty"`
}

// MarshalResult builds a success response for the given request id.
// A nil id marshals as JSON null.
func MarshalResult(id json.RawMessage, result any) ([]byte, error) {
	if id == nil {
		id = json.RawMessage("null")
	}
	if result == nil {
		result = struct{}{}
	}
	return json.Marshal(wireResponse{JSONRPC: Version, ID: id, Result: result})
}

// MarshalError builds an error response for the given request id.
func MarshalError(id json.RawMessage, perr *Error) ([]byte, error) {
	if id == nil {
		id = json.RawMessage("null")
	}
	return json.Marshal(wireResponse{
		JSONRPC: Version,
		ID:      id,
		Error:   &wireError{Code: perr.Code, Message: perr.Message, Data: perr.Data},
	})
}

// MarshalNotification builds a server-initiated notification.
func MarshalNotification(method string, params any) ([]byte, error) {
	return json.Marshal(wireRequest{JSONRPC: Version, Method: method, Params: params})
}
