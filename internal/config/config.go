// Package config provides the configuration schema for openmcpd.
//
// Configuration is file-based (YAML) with environment variable overrides
// under the OPENMCPD_ prefix. The schema is intentionally small: transport
// selection, session lifetimes, authentication keys, authorization rules,
// audit output, and logging.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for openmcpd.
type Config struct {
	// Server configures the transport listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Session configures session lifetimes and cleanup.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Auth configures authentication strategies and API keys.
	// Optional: when auth is not required, unauthenticated requests pass.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Policies configures per-resource-type authorization rules.
	// Authorization is opt-in: with no rules, every action is allowed.
	Policies PoliciesConfig `yaml:"policies" mapstructure:"policies"`

	// Audit configures the request audit trail.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Bridge configures the browser command bridge endpoints.
	Bridge BridgeConfig `yaml:"bridge" mapstructure:"bridge"`

	// Log configures the root logger. Empty fields defer to the
	// LOG_LEVEL/LOG_FORMAT/LOG_OUTPUT/LOG_FILE environment variables.
	Log LogConfig `yaml:"log" mapstructure:"log"`

	// Trace enables the stdout span exporter for the dispatcher.
	Trace TraceConfig `yaml:"trace" mapstructure:"trace"`
}

// ServerConfig configures the transport listener.
type ServerConfig struct {
	// Addr is the HTTP listen address (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// Transport selects the serving mode.
	// Valid values: "http-stream" or "stdio". Defaults to "http-stream".
	Transport string `yaml:"transport" mapstructure:"transport" validate:"omitempty,oneof=http-stream stdio"`

	// AllowedOrigins is the Origin allowlist for DNS rebinding protection.
	// Empty means local-only: any Origin-bearing request is rejected.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// Heartbeat is the SSE heartbeat interval (e.g., "20s").
	// Defaults to "20s" if not specified.
	Heartbeat string `yaml:"heartbeat" mapstructure:"heartbeat" validate:"omitempty,duration"`
}

// SessionConfig configures session lifetimes.
type SessionConfig struct {
	// Timeout is the idle duration before sessions expire (e.g., "5m").
	// Defaults to "5m" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// AutoCleanup enables the periodic expired-session eviction task.
	// Defaults to true.
	AutoCleanup bool `yaml:"auto_cleanup" mapstructure:"auto_cleanup"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	// Required rejects unauthenticated requests when true.
	// Defaults to false: requests without credentials proceed anonymously.
	Required bool `yaml:"required" mapstructure:"required"`

	// Strategy is the default authentication strategy.
	// Valid values: "api_key" or "bearer_token". Defaults to "api_key".
	Strategy string `yaml:"strategy" mapstructure:"strategy" validate:"omitempty,oneof=api_key bearer_token"`

	// Keys defines the accepted API keys, stored as hashes.
	Keys []KeyConfig `yaml:"keys" mapstructure:"keys" validate:"omitempty,dive"`
}

// KeyConfig maps a stored API-key hash to the user it authenticates as.
type KeyConfig struct {
	// Hash is the stored key hash: "sha256:<hex>", bare hex, or an
	// Argon2id PHC string. Generate with: openmcpd hash-key
	Hash string `yaml:"hash" mapstructure:"hash" validate:"required"`

	// UserID is the identity this key authenticates as.
	UserID string `yaml:"user_id" mapstructure:"user_id" validate:"required"`

	// Role is attached to the authenticated user for policy evaluation.
	Role string `yaml:"role" mapstructure:"role"`
}

// PoliciesConfig configures authorization rules.
type PoliciesConfig struct {
	// Enabled turns per-resource-type authorization on.
	// Resource types without a rule remain allowed.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Rules are CEL expressions evaluated per resource type. The
	// expression sees `user`, `action`, and `resource` and must yield
	// a boolean; false or error denies.
	Rules []PolicyRuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// PolicyRuleConfig binds a CEL expression to a resource type.
type PolicyRuleConfig struct {
	// ResourceType is the type the rule guards (e.g., "tool", "resource").
	ResourceType string `yaml:"resource_type" mapstructure:"resource_type" validate:"required"`

	// Expression is the CEL expression (e.g., `user.role == "admin"`).
	Expression string `yaml:"expression" mapstructure:"expression" validate:"required"`
}

// AuditConfig configures the request audit trail.
type AuditConfig struct {
	// Enabled turns the audit trail on. Defaults to false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output specifies where audit records are written.
	// Valid values: "file://<absolute-dir>" for JSONL files with rotation,
	// or "sqlite://<absolute-path>" for a sqlite database.
	// Required when audit is enabled.
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	// Records are dropped, never blocked on, when the buffer is full.
	// Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often partial batches are flushed (e.g., "1s").
	// Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// RetentionDays is how long rotated audit files are kept.
	// File output only. Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB is the per-file size limit before rotation.
	// File output only. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// BridgeConfig configures the browser command bridge.
type BridgeConfig struct {
	// Enabled exposes the /browser/ endpoints. Defaults to false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// LogConfig configures the root logger. Empty fields fall back to the
// corresponding LOG_* environment variable, then to the built-in default.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// Format selects the handler: "text" or "json".
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=text json"`

	// Output selects the destination: "stdout", "stderr", or "file".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,oneof=stdout stderr file"`

	// File is the log file path, used when Output is "file".
	File string `yaml:"file" mapstructure:"file"`
}

// TraceConfig configures tracing.
type TraceConfig struct {
	// Enabled installs a stdout span exporter on the dispatcher.
	// Defaults to false (no-op tracer).
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies default values to optional fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only. Users who need network access must set
	// addr explicitly (":8080" or "0.0.0.0:8080").
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "http-stream"
	}
	if c.Server.Heartbeat == "" {
		c.Server.Heartbeat = "20s"
	}

	if c.Session.Timeout == "" {
		c.Session.Timeout = "5m"
	}
	// viper.IsSet distinguishes "not set" (zero value) from an explicit
	// false in YAML or env.
	if !viper.IsSet("session.auto_cleanup") {
		c.Session.AutoCleanup = true
	}

	if c.Auth.Strategy == "" {
		c.Auth.Strategy = "api_key"
	}

	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
}
