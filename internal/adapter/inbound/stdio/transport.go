// Package stdio implements the stdio transport: a single session served by
// one reader loop over newline- or boundary-delimited JSON-RPC messages.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/openmcpd/openmcpd/internal/domain/audit"
	"github.com/openmcpd/openmcpd/internal/domain/request"
	"github.com/openmcpd/openmcpd/internal/domain/session"
	"github.com/openmcpd/openmcpd/internal/port/inbound"
	"github.com/openmcpd/openmcpd/internal/service"
	"github.com/openmcpd/openmcpd/pkg/mcp"
)

// SessionID is the fixed id of the singleton stdio session.
const SessionID = "stdio"

// readBufferSize is the chunk size for stdin reads.
const readBufferSize = 4096

// Transport serves MCP over stdin/stdout.
type Transport struct {
	server *service.Server
	audit  *service.AuditService
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	writeMu sync.Mutex
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithStreams overrides stdin/stdout, used by tests.
func WithStreams(in io.Reader, out io.Writer) TransportOption {
	return func(t *Transport) {
		t.in = in
		t.out = out
	}
}

// WithAudit installs the audit service.
func WithAudit(auditSvc *service.AuditService) TransportOption {
	return func(t *Transport) {
		t.audit = auditSvc
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a stdio transport over the server facade.
func NewTransport(server *service.Server, opts ...TransportOption) *Transport {
	t := &Transport{
		server: server,
		in:     os.Stdin,
		out:    os.Stdout,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start runs the reader loop until stdin closes or the context is
// cancelled. Each complete message dispatches synchronously; replies are
// written as single lines and flushed.
func (t *Transport) Start(ctx context.Context) error {
	sess := t.server.Sessions().Create(SessionID, request.Minimal(request.TransportStdio))
	writer := bufio.NewWriter(t.out)

	framer := NewFramer()
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(chunks)
		buf := make([]byte, readBufferSize)
		for {
			n, err := t.in.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stdio transport stopping")
			t.server.Sessions().Terminate(SessionID)
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				// End of input: a trailing unterminated message is
				// still handled.
				if msg := framer.Flush(); msg != nil {
					t.handleMessage(ctx, sess, msg, writer)
				}
				t.server.Sessions().Terminate(SessionID)
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			for _, msg := range framer.Push(chunk) {
				t.handleMessage(ctx, sess, msg, writer)
			}
		}
	}
}

// Close terminates the stdio session.
func (t *Transport) Close() error {
	t.server.Sessions().Terminate(SessionID)
	return nil
}

// Compile-time check that Transport implements the inbound port.
var _ inbound.Transport = (*Transport)(nil)

// handleMessage dispatches one framed message and writes its reply.
func (t *Transport) handleMessage(ctx context.Context, sess *session.Session, raw []byte, writer *bufio.Writer) {
	start := time.Now()

	msg, err := mcp.WrapMessage(raw)
	if err != nil {
		// Parse-error replies mirror the id when one can be recovered.
		data, merr := mcp.MarshalError(mcp.ExtractID(raw), mcp.ParseError("invalid JSON-RPC message"))
		if merr == nil {
			t.writeLine(writer, data)
		}
		return
	}

	reply, perr := t.server.Dispatcher().Dispatch(ctx, sess, msg)
	t.recordAudit(sess, msg, perr, start)
	if reply != nil {
		t.writeLine(writer, reply)
	}
}

// writeLine writes one reply line and flushes.
func (t *Transport) writeLine(writer *bufio.Writer, data []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := writer.Write(data); err != nil {
		t.logger.Error("failed to write reply", "error", err)
		return
	}
	if err := writer.WriteByte('\n'); err != nil {
		t.logger.Error("failed to write reply", "error", err)
		return
	}
	if err := writer.Flush(); err != nil {
		t.logger.Error("failed to flush reply", "error", err)
	}
}

func (t *Transport) recordAudit(sess *session.Session, msg *mcp.Message, perr *mcp.Error, start time.Time) {
	if t.audit == nil {
		return
	}
	rec := audit.Record{
		Timestamp:      start,
		SessionID:      sess.ID,
		Method:         msg.Method(),
		Transport:      request.TransportStdio,
		Outcome:        audit.OutcomeOK,
		DurationMicros: time.Since(start).Microseconds(),
		Params:         audit.RedactParams(msg.ParseParams()),
	}
	if perr != nil {
		rec.Outcome = audit.OutcomeError
		rec.ErrorCode = perr.Code
	}
	t.audit.Record(rec)
}
