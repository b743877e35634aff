// Package inbound defines the inbound port interfaces. Transports (stdio,
// streamable HTTP) implement these and the dispatcher never depends on
// which variant it sees.
package inbound

import (
	"context"
)

// Transport is the inbound port every transport adapter implements.
type Transport interface {
	// Start begins serving clients. Blocks until the context is cancelled
	// or an error occurs. Returns nil on graceful shutdown.
	Start(ctx context.Context) error

	// Close gracefully shuts down the transport and cleans up resources.
	Close() error
}
