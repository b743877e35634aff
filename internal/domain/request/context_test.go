package request

import "testing"

func TestNewCopiesInputs(t *testing.T) {
	headers := map[string]string{"X-API-Key": "k"}
	params := map[string]string{"q": "1"}
	meta := map[string]any{MetaTransportType: TransportHTTPStream}

	c := New("POST", "/mcp", headers, params, meta)

	headers["X-API-Key"] = "tampered"
	params["q"] = "tampered"
	meta[MetaTransportType] = "tampered"

	if c.Header("X-API-Key") != "k" {
		t.Error("header aliases caller map")
	}
	if c.Param("q") != "1" {
		t.Error("param aliases caller map")
	}
	if c.TransportType() != TransportHTTPStream {
		t.Error("metadata aliases caller map")
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	c := New("GET", "/mcp", map[string]string{"A": "1"}, nil, map[string]any{MetaRemoteAddr: "10.0.0.1"})

	c.Headers()["A"] = "mutated"
	c.Metadata()[MetaRemoteAddr] = "mutated"

	if c.Header("A") != "1" {
		t.Error("Headers() exposes internal map")
	}
	if c.RemoteAddr() != "10.0.0.1" {
		t.Error("Metadata() exposes internal map")
	}
}

func TestMinimalInstancesAreDistinct(t *testing.T) {
	a := Minimal(TransportStdio)
	b := Minimal(TransportStdio)
	if a == b {
		t.Fatal("Minimal returned a shared instance")
	}
	if a.TransportType() != TransportStdio {
		t.Errorf("transport = %q", a.TransportType())
	}
	if a.Method() != "" || a.Path() != "" {
		t.Error("minimal context carries framing")
	}
}

func TestAbsentValues(t *testing.T) {
	c := Minimal(TransportHTTPStream)
	if c.Header("Nope") != "" || c.Param("nope") != "" {
		t.Error("absent lookups not empty")
	}
	if c.Meta("nope") != nil {
		t.Error("absent metadata not nil")
	}
	if c.RemoteAddr() != "" {
		t.Error("remote addr set on minimal context")
	}
}
