package security

import (
	"context"
	"strings"
)

// Request is the transport-normalized view of an inbound request handed to
// authentication strategies.
type Request struct {
	Method     string
	Path       string
	Headers    map[string]string
	Params     map[string]string
	RemoteAddr string
}

// Header returns a header value with case-insensitive lookup.
func (r Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	lower := strings.ToLower(name)
	for k, v := range r.Headers {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}

// User is the record a successful authentication produces. It carries at
// least "id" and usually "role", plus strategy-specific fields.
type User map[string]any

// ID returns the user's id.
func (u User) ID() string {
	id, _ := u["id"].(string)
	return id
}

// Role returns the user's role, empty when unset.
func (u User) Role() string {
	role, _ := u["role"].(string)
	return role
}

// Strategy authenticates a normalized request. A nil User means the
// strategy rejected the request.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, req Request) (User, bool)
}

// KeyRecord maps a stored API-key hash to the user it authenticates as.
type KeyRecord struct {
	// Hash is the stored key hash: sha256-prefixed, bare hex, or
	// Argon2id PHC format.
	Hash string
	// User is returned on a successful match.
	User User
}

// APIKeyStrategy authenticates via the X-API-Key header (or api_key query
// parameter). Keys are verified against stored hashes, never raw values.
type APIKeyStrategy struct {
	keys []KeyRecord
}

// NewAPIKeyStrategy creates an APIKeyStrategy over the given key records.
func NewAPIKeyStrategy(keys []KeyRecord) *APIKeyStrategy {
	return &APIKeyStrategy{keys: keys}
}

// Name implements Strategy.
func (s *APIKeyStrategy) Name() string { return "api_key" }

// Authenticate implements Strategy.
func (s *APIKeyStrategy) Authenticate(ctx context.Context, req Request) (User, bool) {
	raw := req.Header("X-API-Key")
	if raw == "" {
		raw = req.Params["api_key"]
	}
	if raw == "" {
		return nil, false
	}
	for _, rec := range s.keys {
		match, err := VerifyKey(raw, rec.Hash)
		if err != nil || !match {
			continue
		}
		return tagged(rec.User, s.Name()), true
	}
	return nil, false
}

// TokenValidator resolves a bearer token to a user record.
type TokenValidator func(ctx context.Context, token string) (User, bool)

// BearerStrategy authenticates via "Authorization: Bearer <token>". Token
// validation (JWT or opaque) is delegated to the validator.
type BearerStrategy struct {
	validate TokenValidator
}

// NewBearerStrategy creates a BearerStrategy with the given validator.
func NewBearerStrategy(validate TokenValidator) *BearerStrategy {
	return &BearerStrategy{validate: validate}
}

// Name implements Strategy.
func (s *BearerStrategy) Name() string { return "bearer_token" }

// Authenticate implements Strategy.
func (s *BearerStrategy) Authenticate(ctx context.Context, req Request) (User, bool) {
	auth := req.Header("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" || s.validate == nil {
		return nil, false
	}
	user, ok := s.validate(ctx, token)
	if !ok {
		return nil, false
	}
	return tagged(user, s.Name()), true
}

// CustomStrategy wraps an arbitrary authentication function.
type CustomStrategy struct {
	name string
	fn   func(ctx context.Context, req Request) (User, bool)
}

// NewCustomStrategy creates a named custom strategy.
func NewCustomStrategy(name string, fn func(ctx context.Context, req Request) (User, bool)) *CustomStrategy {
	return &CustomStrategy{name: name, fn: fn}
}

// Name implements Strategy.
func (s *CustomStrategy) Name() string { return s.name }

// Authenticate implements Strategy.
func (s *CustomStrategy) Authenticate(ctx context.Context, req Request) (User, bool) {
	if s.fn == nil {
		return nil, false
	}
	user, ok := s.fn(ctx, req)
	if !ok {
		return nil, false
	}
	return tagged(user, s.name), true
}

// tagged copies a user record and stamps the strategy that produced it.
// The source map is never written to; it may be nil or owned by the caller.
func tagged(user User, strategy string) User {
	out := make(User, len(user)+1)
	for k, v := range user {
		out[k] = v
	}
	out["auth_strategy"] = strategy
	return out
}
