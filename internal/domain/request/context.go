// Package request defines the immutable per-request context attached to
// sessions and exposed to handlers.
package request

import "maps"

// Transport type values recorded in context metadata.
const (
	TransportHTTPStream = "http-stream"
	TransportStdio      = "stdio"
	TransportSSE        = "sse"
)

// Metadata keys every context carries.
const (
	MetaTransportType = "transport_type"
	MetaRemoteAddr    = "remote_addr"
)

// Context is an immutable snapshot of the request that created or touched a
// session. Accessors return copies; two sessions never share an instance.
type Context struct {
	method   string
	path     string
	headers  map[string]string
	params   map[string]string
	metadata map[string]any
}

// New builds a Context from request data. All maps are copied.
func New(method, path string, headers, params map[string]string, metadata map[string]any) *Context {
	c := &Context{
		method:   method,
		path:     path,
		headers:  make(map[string]string, len(headers)),
		params:   make(map[string]string, len(params)),
		metadata: make(map[string]any, len(metadata)),
	}
	maps.Copy(c.headers, headers)
	maps.Copy(c.params, params)
	maps.Copy(c.metadata, metadata)
	return c
}

// Minimal builds a Context for transports with no HTTP framing (stdio).
// Each call returns a fresh instance: sharing one minimal context across
// sessions would leak metadata between tenants.
func Minimal(transportType string) *Context {
	return &Context{
		headers: map[string]string{},
		params:  map[string]string{},
		metadata: map[string]any{
			MetaTransportType: transportType,
		},
	}
}

// Method returns the request method (HTTP verb, or empty for stdio).
func (c *Context) Method() string { return c.method }

// Path returns the request path.
func (c *Context) Path() string { return c.path }

// Header returns the named header value, empty string when absent.
func (c *Context) Header(name string) string { return c.headers[name] }

// Headers returns a copy of all headers.
func (c *Context) Headers() map[string]string {
	out := make(map[string]string, len(c.headers))
	maps.Copy(out, c.headers)
	return out
}

// Param returns the named query parameter, empty string when absent.
func (c *Context) Param(name string) string { return c.params[name] }

// Params returns a copy of all query parameters.
func (c *Context) Params() map[string]string {
	out := make(map[string]string, len(c.params))
	maps.Copy(out, c.params)
	return out
}

// Meta returns the named metadata value, nil when absent.
func (c *Context) Meta(key string) any { return c.metadata[key] }

// Metadata returns a copy of all metadata.
func (c *Context) Metadata() map[string]any {
	out := make(map[string]any, len(c.metadata))
	maps.Copy(out, c.metadata)
	return out
}

// TransportType returns the transport kind recorded in metadata.
func (c *Context) TransportType() string {
	t, _ := c.metadata[MetaTransportType].(string)
	return t
}

// RemoteAddr returns the remote address recorded in metadata.
func (c *Context) RemoteAddr() string {
	a, _ := c.metadata[MetaRemoteAddr].(string)
	return a
}
