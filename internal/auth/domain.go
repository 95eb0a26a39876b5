package auth

import (
	"context"
	"sync"
	"time"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	ActorID      int64
	Username     string
	Email        string
	PasswordHash string
	JWTSecret    string
	CreatedAt    time.Time

	// Permissions holds the effective permission names resolved from the
	// user's roles. Empty until loaded.
	Permissions []string
}

// APIKeyCredentials carries the identity derived from an opaque API key.
// A key bound to a device or application actor has no backing user.
type APIKeyCredentials struct {
	Key         string
	ActorID     int64
	Permissions []string
}

// Credentials is the resolved request-scoped identity: a full user, an
// API-key-derived permission set, or both when a user-owned key is presented.
type Credentials struct {
	User   *User
	APIKey *APIKeyCredentials
}

// Identity accumulates credential state for one request. It is owned by the
// request's lifetime and memoizes resolution so the store is queried at most
// once per request.
type Identity struct {
	mu sync.Mutex

	apiKey   string
	creds    *Credentials
	resolved bool
}

// SetAPIKey attaches a raw API key string extracted from the request.
func (id *Identity) SetAPIKey(key string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.apiKey = key
}

// APIKey returns the attached raw API key string, if any.
func (id *Identity) APIKey() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.apiKey
}

// SetCredentials attaches resolved credentials.
func (id *Identity) SetCredentials(creds *Credentials) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.creds = creds
}

// Credentials returns the attached credentials, if any.
func (id *Identity) Credentials() *Credentials {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.creds
}

type identityContextKey struct{}

// ContextWithIdentity stores the per-request identity cache in context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the per-request identity cache from context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
