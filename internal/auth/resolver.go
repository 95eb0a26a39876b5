package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/armada-fleet/armada/internal/shared"
)

// Hook mutates the per-request identity from the raw request, for example by
// extracting an API key header or attaching externally resolved credentials.
// A nil *http.Request is legal for non-HTTP invocations.
type Hook func(ctx context.Context, r *http.Request, id *Identity) error

// Resolver unifies bearer-JWT and API-key authentication into one
// request-scoped identity. Resolution order is fixed: the API-key hook always
// runs first, then non-JWT bearer tokens are routed to the authorization hook
// for backward compatibility with clients sending keys on the JWT header.
type Resolver struct {
	repo        Repository
	apiKeyHook  Hook
	authHook    Hook
	keyObserver func(ctx context.Context, key string)
	logger      *slog.Logger
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithAPIKeyHook replaces the API-key extraction hook.
func WithAPIKeyHook(h Hook) ResolverOption {
	return func(rv *Resolver) { rv.apiKeyHook = h }
}

// WithAuthorizationHook replaces the hook handling non-JWT bearer tokens.
func WithAuthorizationHook(h Hook) ResolverOption {
	return func(rv *Resolver) { rv.authHook = h }
}

// WithKeyObserver registers a callback invoked whenever an API key resolves
// to a user. The callback must not block.
func WithKeyObserver(fn func(ctx context.Context, key string)) ResolverOption {
	return func(rv *Resolver) { rv.keyObserver = fn }
}

// NewResolver constructs a Resolver with the default header hooks.
func NewResolver(repo Repository, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	rv := &Resolver{
		repo:       repo,
		apiKeyHook: ExtractAPIKey,
		authHook:   BearerAsAPIKey,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(rv)
	}
	return rv
}

// User resolves the authenticated user for the current request. With required
// set, an unresolvable identity fails with ErrUnauthorized; otherwise nil is
// returned. The result is memoized on the request identity, so a second call
// within the same request never re-queries the store.
func (rv *Resolver) User(ctx context.Context, r *http.Request, required bool) (*User, error) {
	id := IdentityFromContext(ctx)
	if id == nil {
		if required {
			return nil, fmt.Errorf("%w: no request identity", shared.ErrUnauthorized)
		}
		return nil, nil
	}

	id.mu.Lock()
	if id.resolved {
		user := credUser(id.creds)
		id.mu.Unlock()
		if required && user == nil {
			return nil, fmt.Errorf("%w: user has not been authorized", shared.ErrUnauthorized)
		}
		return user, nil
	}
	id.mu.Unlock()

	// API-key pre-resolution always runs first: both credential kinds may
	// legally appear on the same request.
	if rv.apiKeyHook != nil {
		if err := rv.apiKeyHook(ctx, r, id); err != nil {
			return nil, err
		}
	}
	if r != nil && rv.authHook != nil {
		if tok := BearerToken(r); tok != "" && !IsJWT(tok) {
			if err := rv.authHook(ctx, r, id); err != nil {
				return nil, err
			}
		}
	}

	id.mu.Lock()
	if creds := id.creds; creds != nil {
		id.resolved = true
		user := credUser(creds)
		id.mu.Unlock()
		if required && user == nil {
			return nil, fmt.Errorf("%w: user has not been authorized", shared.ErrUnauthorized)
		}
		return user, nil
	}
	key := id.apiKey
	id.mu.Unlock()

	if key == "" {
		if required {
			return nil, fmt.Errorf("%w: no credentials supplied", shared.ErrUnauthorized)
		}
		return nil, nil
	}

	user, err := rv.repo.FindUserByAPIKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if required {
			return nil, fmt.Errorf("%w: user not found for API key", shared.ErrUnauthorized)
		}
		return nil, nil
	}

	id.mu.Lock()
	id.creds = &Credentials{User: user}
	id.resolved = true
	id.mu.Unlock()
	if rv.keyObserver != nil {
		rv.keyObserver(ctx, key)
	}
	return user, nil
}

func credUser(creds *Credentials) *User {
	if creds == nil {
		return nil
	}
	return creds.User
}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ExtractAPIKey is the default API-key hook: it attaches the X-Api-Key header
// or the apikey query parameter, never overwriting an already-attached key.
func ExtractAPIKey(_ context.Context, r *http.Request, id *Identity) error {
	if r == nil || id.APIKey() != "" {
		return nil
	}
	if key := r.Header.Get("X-Api-Key"); key != "" {
		id.SetAPIKey(key)
		return nil
	}
	if key := r.URL.Query().Get("apikey"); key != "" {
		id.SetAPIKey(key)
	}
	return nil
}

// BearerAsAPIKey is the default authorization hook for non-JWT bearer tokens:
// the token value is treated as an API key.
func BearerAsAPIKey(_ context.Context, r *http.Request, id *Identity) error {
	if r == nil {
		return nil
	}
	if tok := BearerToken(r); tok != "" {
		id.SetAPIKey(tok)
	}
	return nil
}
