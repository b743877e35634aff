// Package logging builds the root slog logger from configuration and the
// LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT, and LOG_FILE environment variables.
// Config fields win over environment variables; unrecognized values fall
// back to info/text/stderr rather than failing startup.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the logger behavior. Empty fields fall back to the
// corresponding LOG_* environment variable, then to the default.
type Options struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string
	// Format selects the handler: "text" or "json".
	Format string
	// Output selects the destination: "stdout", "stderr", or "file".
	Output string
	// File is the log file path, used when Output resolves to "file".
	File string
}

// New builds the root logger. The returned closer is non-nil when a log
// file was opened; callers close it on shutdown. Stdio transports must not
// log to stdout, so callers should force stderr in that mode.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(resolve(opts.Level, "LOG_LEVEL", "info"))
	format := resolve(opts.Format, "LOG_FORMAT", "text")
	output := resolve(opts.Output, "LOG_OUTPUT", "stderr")

	var w io.Writer
	var closer io.Closer
	switch output {
	case "stdout":
		w = os.Stdout
	case "file":
		path := resolve(opts.File, "LOG_FILE", "")
		if path == "" {
			w = os.Stderr
			break
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		w = f
		closer = f
	default:
		w = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	return slog.New(handler), closer, nil
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolve returns the config value, then the environment variable, then the
// fallback.
func resolve(value, envKey, fallback string) string {
	if value != "" {
		return strings.ToLower(value)
	}
	if env := os.Getenv(envKey); env != "" {
		return strings.ToLower(env)
	}
	return fallback
}
