package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/armada-fleet/armada/internal/apikeys"
	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/rbac"
	"github.com/armada-fleet/armada/internal/shared"
	"github.com/armada-fleet/armada/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthMiddleware auth.Middleware
	AuthHandler    *auth.Handler
	UsersHandler   *users.Handler
	APIKeysHandler *apikeys.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Armada defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Auth:    params.AuthMiddleware,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", params.AuthHandler.HandleLogin)
		r.Post("/users", params.UsersHandler.HandleRegister)
		r.Post("/users/{id}/password", params.UsersHandler.HandleChangePassword)

		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequirePermission(shared.PermKeysIssue))
			r.Post("/api-keys", params.APIKeysHandler.HandleCreate)
		})
	})

	return r
}
