package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	httptransport "github.com/openmcpd/openmcpd/internal/adapter/inbound/http"
	"github.com/openmcpd/openmcpd/internal/adapter/inbound/stdio"
	auditstore "github.com/openmcpd/openmcpd/internal/adapter/outbound/audit"
	"github.com/openmcpd/openmcpd/internal/config"
	"github.com/openmcpd/openmcpd/internal/domain/audit"
	"github.com/openmcpd/openmcpd/internal/domain/command"
	"github.com/openmcpd/openmcpd/internal/domain/event"
	"github.com/openmcpd/openmcpd/internal/domain/middleware"
	"github.com/openmcpd/openmcpd/internal/domain/security"
	"github.com/openmcpd/openmcpd/internal/domain/session"
	"github.com/openmcpd/openmcpd/internal/logging"
	"github.com/openmcpd/openmcpd/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	Long: `Start the openmcpd server.

The server operates in one of two transport modes:

1. http-stream (default): streamable HTTP on server.addr with POST
   dispatch, a GET SSE event stream with replay, and DELETE termination.

2. stdio: a single session over stdin/stdout, one JSON-RPC message per
   line. Logs go to stderr so stdout stays clean for the protocol.

Examples:
  # Start with config file settings
  openmcpd run

  # Serve stdio regardless of the config file
  openmcpd run --transport stdio

  # Start with a specific config file
  openmcpd --config /path/to/config.yaml run

  # Enable the stdout span exporter
  openmcpd run --trace`,
	RunE: runServer,
}

var (
	runTransport string
	runAddr      string
	runTrace     bool
)

func init() {
	runCmd.Flags().StringVar(&runTransport, "transport", "", "transport mode: http-stream or stdio (overrides config)")
	runCmd.Flags().StringVar(&runAddr, "addr", "", "HTTP listen address (overrides config)")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "export dispatcher spans to stdout")
	rootCmd.AddCommand(runCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if runTransport != "" {
		cfg.Server.Transport = runTransport
	}
	if runAddr != "" {
		cfg.Server.Addr = runAddr
	}
	if runTrace {
		cfg.Trace.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logOpts := logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		File:   cfg.Log.File,
	}
	// Stdio mode reserves stdout for the protocol stream.
	if cfg.Server.Transport == "stdio" && logOpts.Output != "file" {
		logOpts.Output = "stderr"
	}
	logger, logCloser, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}
	slog.SetDefault(logger)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	return run(ctx, cfg, logger)
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sessionTimeout := parseDurationOr(cfg.Session.Timeout, 5*time.Minute, "session.timeout", logger)
	heartbeat := parseDurationOr(cfg.Server.Heartbeat, 20*time.Second, "server.heartbeat", logger)

	events := event.NewStore(event.DefaultMaxEvents)

	sessions := session.NewHTTPManager(session.Config{
		Timeout:       sessionTimeout,
		TransportType: cfg.Server.Transport,
		AutoCleanup:   cfg.Session.AutoCleanup,
	}, logger)
	sessions.Start(ctx)
	defer sessions.Stop()

	sec, err := buildSecurity(cfg, logger)
	if err != nil {
		return err
	}

	mw := middleware.NewManager(logger)

	dispatcherOpts := []service.DispatcherOption{
		service.WithServerInfo(service.ServerInfo{Name: "openmcpd", Version: Version}),
	}
	if cfg.Trace.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		dispatcherOpts = append(dispatcherOpts, service.WithTracer(tp.Tracer("openmcpd")))
		logger.Info("stdout span exporter enabled")
	}
	dispatcher := service.NewDispatcher(mw, logger, dispatcherOpts...)
	server := service.NewServer(dispatcher, sessions, events, logger)

	var auditSvc *service.AuditService
	if cfg.Audit.Enabled {
		store, err := createAuditStore(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create audit store: %w", err)
		}
		flushInterval := parseDurationOr(cfg.Audit.FlushInterval, time.Second, "audit.flush_interval", logger)
		auditSvc = service.NewAuditService(store, logger,
			service.WithAuditChannelSize(cfg.Audit.ChannelSize),
			service.WithAuditBatchSize(cfg.Audit.BatchSize),
			service.WithAuditFlushInterval(flushInterval),
		)
		auditSvc.Start(ctx)
		defer auditSvc.Stop()
		logger.Info("audit trail enabled", "output", cfg.Audit.Output)
	}

	switch cfg.Server.Transport {
	case "stdio":
		transport := stdio.NewTransport(server,
			stdio.WithAudit(auditSvc),
			stdio.WithLogger(logger),
		)
		logger.Info("serving stdio transport")
		err = transport.Start(ctx)
	default:
		opts := []httptransport.Option{
			httptransport.WithAddr(cfg.Server.Addr),
			httptransport.WithAllowedOrigins(cfg.Server.AllowedOrigins),
			httptransport.WithSecurity(sec),
			httptransport.WithAudit(auditSvc),
			httptransport.WithHeartbeatInterval(heartbeat),
			httptransport.WithVersion(Version),
			httptransport.WithLogger(logger),
		}
		if cfg.Bridge.Enabled {
			opts = append(opts, httptransport.WithBridge(command.NewQueue()))
			logger.Info("browser bridge enabled")
		}
		transport := httptransport.NewTransport(server, opts...)
		err = transport.Start(ctx)
	}
	if err != nil {
		return err
	}

	logger.Info("openmcpd stopped")
	return nil
}

// buildSecurity assembles the authentication/authorization middleware from
// config: key-based strategies plus CEL policies per resource type.
func buildSecurity(cfg *config.Config, logger *slog.Logger) (*security.Middleware, error) {
	sec := security.NewMiddleware(logger)
	sec.RequireAuth(cfg.Auth.Required)

	records := make([]security.KeyRecord, 0, len(cfg.Auth.Keys))
	for _, key := range cfg.Auth.Keys {
		user := security.User{"id": key.UserID}
		if key.Role != "" {
			user["role"] = key.Role
		}
		records = append(records, security.KeyRecord{Hash: key.Hash, User: user})
	}
	if len(records) > 0 {
		sec.AddStrategy(security.NewAPIKeyStrategy(records))
	}
	if cfg.Auth.Strategy == "bearer_token" {
		// Bearer tokens are verified against the same stored hashes.
		sec.AddStrategy(security.NewBearerStrategy(func(ctx context.Context, token string) (security.User, bool) {
			for _, rec := range records {
				if ok, err := security.VerifyKey(token, rec.Hash); err == nil && ok {
					return rec.User, true
				}
			}
			return nil, false
		}))
	}
	sec.SetDefaultStrategy(cfg.Auth.Strategy)

	sec.EnableAuthorization(cfg.Policies.Enabled)
	for _, rule := range cfg.Policies.Rules {
		policy, err := security.CompileCELPolicy(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("policies.rules[%s]: %w", rule.ResourceType, err)
		}
		sec.AddPolicy(rule.ResourceType, policy)
	}
	return sec, nil
}

// createAuditStore builds the audit store named by audit.output.
func createAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	switch {
	case strings.HasPrefix(cfg.Audit.Output, "file://"):
		dir := strings.TrimPrefix(cfg.Audit.Output, "file://")
		return auditstore.NewFileStore(auditstore.FileConfig{
			Dir:           dir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		}, logger)
	case strings.HasPrefix(cfg.Audit.Output, "sqlite://"):
		path := strings.TrimPrefix(cfg.Audit.Output, "sqlite://")
		return auditstore.NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported audit output %q", cfg.Audit.Output)
	}
}

// parseDurationOr parses a duration string, logging and falling back on
// invalid input. Validation normally catches bad values; this guards the
// paths that skip it.
func parseDurationOr(value string, fallback time.Duration, field string, logger *slog.Logger) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration, using default", "field", field, "value", value, "default", fallback.String())
		return fallback
	}
	return d
}
