package auth

import (
	"log/slog"
	"net/http"
)

// Middleware installs a fresh per-request Identity and resolves structurally
// valid bearer JWTs against the subject's personal signing secret.
type Middleware struct {
	Repo   Repository
	Logger *slog.Logger
}

// Authenticate attaches the identity cache to the request context. A bearer
// token that parses as a JWT is verified here; anything else is left for the
// resolver's API-key path. Verification failures do not abort the request:
// required resolution rejects unauthenticated requests downstream.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := &Identity{}
		ctx := ContextWithIdentity(r.Context(), id)

		if tok := BearerToken(r); tok != "" && IsJWT(tok) {
			userID, err := TokenSubject(tok)
			if err == nil {
				user, uerr := m.Repo.FindUserByID(ctx, userID)
				switch {
				case uerr != nil:
					if m.Logger != nil {
						m.Logger.Error("load token subject", slog.Any("error", uerr))
					}
				case user != nil && VerifyToken(tok, user) == nil:
					id.SetCredentials(&Credentials{User: user})
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
