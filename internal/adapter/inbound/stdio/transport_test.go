package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/openmcpd/openmcpd/internal/domain/event"
	"github.com/openmcpd/openmcpd/internal/domain/middleware"
	"github.com/openmcpd/openmcpd/internal/domain/session"
	"github.com/openmcpd/openmcpd/internal/service"
	"github.com/openmcpd/openmcpd/pkg/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *service.Server {
	t.Helper()
	mgr := session.NewHTTPManager(session.Config{}, testLogger())
	d := service.NewDispatcher(middleware.NewManager(testLogger()), testLogger(),
		service.WithServerInfo(service.ServerInfo{Name: "openmcpd", Version: "test"}))
	return service.NewServer(d, mgr, event.NewStore(event.DefaultMaxEvents), testLogger())
}

// runTransport feeds input to a transport and returns the reply lines after
// the input stream ends.
func runTransport(t *testing.T, input string) ([]string, *service.Server) {
	t.Helper()
	server := newTestServer(t)
	var out bytes.Buffer
	tr := NewTransport(server, WithStreams(strings.NewReader(input), &out), WithLogger(testLogger()))

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var lines []string
	for _, line := range strings.Split(out.String(), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, server
}

type stdioReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  map[string]any  `json:"result"`
	Error   *mcp.Error      `json:"error"`
}

func decodeLine(t *testing.T, line string) stdioReply {
	t.Helper()
	var r stdioReply
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return r
}

func TestTransportRequestResponse(t *testing.T) {
	lines, _ := runTransport(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"cli","version":"1"}}}`+"\n"+
			`{"jsonrpc":"2.0","id":2,"method":"ping"}`+"\n")

	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	init := decodeLine(t, lines[0])
	if string(init.ID) != "1" || init.Error != nil {
		t.Errorf("initialize reply = %+v", init)
	}
	if init.Result["protocolVersion"] != mcp.ProtocolVersion {
		t.Errorf("protocolVersion = %v", init.Result["protocolVersion"])
	}
	pong := decodeLine(t, lines[1])
	if string(pong.ID) != "2" || pong.Error != nil {
		t.Errorf("ping reply = %+v", pong)
	}
}

func TestTransportNotificationSilent(t *testing.T) {
	lines, _ := runTransport(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	if len(lines) != 0 {
		t.Errorf("notification produced output: %v", lines)
	}
}

func TestTransportParseError(t *testing.T) {
	lines, _ := runTransport(t, "this is not json\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %v", lines)
	}
	r := decodeLine(t, lines[0])
	if r.Error == nil || r.Error.Code != mcp.CodeParseError {
		t.Errorf("reply = %+v", r)
	}
	if string(r.ID) != "null" {
		t.Errorf("id = %s, unrecoverable id must be null", r.ID)
	}
}

func TestTransportParseErrorRecoversID(t *testing.T) {
	// Valid JSON, invalid message shape: the reply mirrors the id.
	lines, _ := runTransport(t, `{"id":7,"method":123}`+"\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %v", lines)
	}
	r := decodeLine(t, lines[0])
	if r.Error == nil || r.Error.Code != mcp.CodeParseError {
		t.Errorf("reply = %+v", r)
	}
	if string(r.ID) != "7" {
		t.Errorf("id = %s", r.ID)
	}
}

func TestTransportTrailingMessageWithoutNewline(t *testing.T) {
	lines, _ := runTransport(t, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	if len(lines) != 1 {
		t.Fatalf("lines = %v", lines)
	}
	r := decodeLine(t, lines[0])
	if string(r.ID) != "3" || r.Error != nil {
		t.Errorf("reply = %+v", r)
	}
}

func TestTransportMessageSpanningReads(t *testing.T) {
	// io.Pipe delivers each Write as its own Read, splitting the message
	// across chunks.
	server := newTestServer(t)
	pr, pw := io.Pipe()
	var out bytes.Buffer
	tr := NewTransport(server, WithStreams(pr, &out), WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() { done <- tr.Start(context.Background()) }()

	for _, part := range []string{`{"jsonrpc":"2.0",`, `"id":9,`, `"method":"ping"}`, "\n"} {
		if _, err := pw.Write([]byte(part)); err != nil {
			t.Fatal(err)
		}
	}
	pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := decodeLine(t, strings.TrimSpace(out.String()))
	if string(r.ID) != "9" || r.Error != nil {
		t.Errorf("reply = %+v", r)
	}
}

func TestTransportSessionLifecycle(t *testing.T) {
	_, server := runTransport(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	if _, ok := server.Sessions().Get(SessionID); ok {
		t.Error("stdio session not terminated at end of input")
	}
}

func TestTransportContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := newTestServer(t)
	pr, pw := io.Pipe()
	var out bytes.Buffer
	tr := NewTransport(server, WithStreams(pr, &out), WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	// Unblock the reader goroutine.
	pw.Close()
}
