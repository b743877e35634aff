package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// DecodeMessage deserializes JSON-RPC wire data. Returns either a
// *jsonrpc.Request or *jsonrpc.Response. This delegates to the MCP SDK.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// EncodeMessage serializes a JSON-RPC message to its wire format.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// WrapMessage decodes raw JSON-RPC bytes into a Message with the current
// timestamp. Returns a ParseError-wrapping error when decoding fails.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// ExtractID pulls a best-effort request id out of a possibly malformed
// JSON-RPC buffer. Parse-error replies must mirror the id when one can be
// recovered; nil means reply with a null id.
func ExtractID(raw []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe.ID) > 0 {
		if string(probe.ID) != "null" {
			return probe.ID
		}
		return nil
	}
	// The buffer is not valid JSON; scan for an "id" field textually and
	// accept integer or quoted-string forms only.
	idx := indexIDField(raw)
	if idx < 0 {
		return nil
	}
	rest := raw[idx:]
	for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t') {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return nil
	}
	if rest[0] == '"' {
		end := 1
		for end < len(rest) && rest[end] != '"' {
			if rest[end] == '\\' {
				end++
			}
			end++
		}
		if end < len(rest) {
			return json.RawMessage(rest[:end+1])
		}
		return nil
	}
	end := 0
	for end < len(rest) && (rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return nil
	}
	return json.RawMessage(rest[:end])
}

// indexIDField returns the offset just past `"id":` in raw, or -1.
func indexIDField(raw []byte) int {
	for i := 0; i+5 <= len(raw); i++ {
		if raw[i] == '"' && string(raw[i:i+4]) == `"id"` {
			j := i + 4
			for j < len(raw) && (raw[j] == ' ' || raw[j] == '\t') {
				j++
			}
			if j < len(raw) && raw[j] == ':' {
				return j + 1
			}
		}
	}
	return -1
}
