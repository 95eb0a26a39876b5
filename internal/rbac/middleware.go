package rbac

import (
	"log/slog"
	"net/http"

	"github.com/armada-fleet/armada/internal/auth"
)

// Middleware wires permission checks into HTTP routes.
type Middleware struct {
	Service  *Service
	Resolver *auth.Resolver
	Logger   *slog.Logger
}

// RequirePermission rejects requests whose resolved identity lacks the named
// permission. Unauthenticated requests get 401; authenticated ones without
// the grant get 403.
func (m Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Optional resolution first: a userless API key is still a
			// valid identity for permission purposes.
			if _, err := m.Resolver.User(r.Context(), r, false); err != nil {
				if m.Logger != nil {
					m.Logger.Error("resolve identity", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			id := auth.IdentityFromContext(r.Context())
			if id == nil || (id.Credentials() == nil && id.APIKey() == "") {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			granted, err := m.Service.RequestHasPermission(r.Context(), r, permission)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("check permission", slog.String("permission", permission), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !granted {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
