// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger. The HTTP
// transport stores a logger with the request id attached; the dispatcher
// reads it back when logging request failures.
type LoggerKey struct{}
