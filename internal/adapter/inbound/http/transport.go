package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openmcpd/openmcpd/internal/domain/command"
	"github.com/openmcpd/openmcpd/internal/domain/security"
	"github.com/openmcpd/openmcpd/internal/port/inbound"
	"github.com/openmcpd/openmcpd/internal/service"
)

// Transport is the inbound adapter serving the streamable HTTP surface:
// /mcp, the browser bridge, /health, and /metrics.
type Transport struct {
	server         *service.Server
	security       *security.Middleware
	audit          *service.AuditService
	bridgeQueue    *command.Queue
	addr           string
	allowedOrigins []string
	heartbeat      time.Duration
	version        string
	logger         *slog.Logger

	httpServer *http.Server
	metrics    *Metrics
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithAllowedOrigins sets the Origin allowlist for DNS rebinding
// protection. Empty means local-only: any Origin-bearing request is
// rejected.
func WithAllowedOrigins(origins []string) Option {
	return func(t *Transport) {
		t.allowedOrigins = origins
	}
}

// WithSecurity installs the authentication/authorization middleware.
func WithSecurity(sec *security.Middleware) Option {
	return func(t *Transport) {
		t.security = sec
	}
}

// WithAudit installs the audit service.
func WithAudit(auditSvc *service.AuditService) Option {
	return func(t *Transport) {
		t.audit = auditSvc
	}
}

// WithBridge enables the browser command bridge over the given queue.
func WithBridge(queue *command.Queue) Option {
	return func(t *Transport) {
		t.bridgeQueue = queue
	}
}

// WithHeartbeatInterval overrides the SSE heartbeat interval.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(t *Transport) {
		if interval > 0 {
			t.heartbeat = interval
		}
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(version string) Option {
	return func(t *Transport) {
		t.version = version
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates an HTTP transport over the given server facade.
func NewTransport(server *service.Server, opts ...Option) *Transport {
	t := &Transport{
		server:         server,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		heartbeat:      defaultHeartbeatInterval,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins accepting connections. It blocks until the context is
// cancelled or the listener fails.
func (t *Transport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg, t.server.Sessions().Count)

	mcpHandler := NewHandler(t.server, t.security, t.audit, t.metrics, t.logger)
	mcpHandler.heartbeat = t.heartbeat

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/mcp/", mcpHandler)
	if t.bridgeQueue != nil {
		mux.Handle("/browser/", NewBridge(t.bridgeQueue, t.security, t.metrics, t.logger))
	}
	checker := NewHealthChecker(t.server.Sessions(), t.server.Events(), t.audit, t.version)
	mux.Handle("/health", checker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))

	// Middleware chain, outermost first: metrics wraps everything so
	// durations cover the full pipeline.
	var handler http.Handler = mux
	handler = DNSRebindingProtection(t.allowedOrigins)(handler)
	handler = RealIPMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)

	t.httpServer = &http.Server{
		Addr:    t.addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		if err := t.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown stops accepting new connections, evicts every session (closing
// their streams), and waits for in-flight handlers with a bound.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.server.Sessions().CleanupAll()

	if err := t.httpServer.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.httpServer == nil {
		return nil
	}
	return t.shutdown()
}

// Compile-time check that Transport implements the inbound port.
var _ inbound.Transport = (*Transport)(nil)
