// Package http implements the streamable HTTP transport: POST for client
// requests, a long-lived SSE GET for server pushes with Last-Event-ID
// resumption, DELETE for session termination, and the browser command
// bridge under /browser/.
package http
