package users

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/platform/httpx"
	"github.com/armada-fleet/armada/internal/rbac"
	"github.com/armada-fleet/armada/internal/shared"
)

// Auditor records account events out of band.
type Auditor interface {
	EnqueueAudit(ctx context.Context, log shared.AuditLog) error
}

// Handler exposes registration and password endpoints.
type Handler struct {
	directory *Directory
	resolver  *auth.Resolver
	rbac      *rbac.Service
	auditor   Auditor
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewHandler constructs a Handler. auditor may be nil.
func NewHandler(directory *Directory, resolver *auth.Resolver, rbacService *rbac.Service, auditor Auditor, logger *slog.Logger) *Handler {
	return &Handler{
		directory: directory,
		resolver:  resolver,
		rbac:      rbacService,
		auditor:   auditor,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password"`
}

type userView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleRegister processes POST /v1/users.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var payload registerRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "username and a valid email are required")
		return
	}

	user, err := h.directory.Register(r.Context(), NewUser{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
	}, clientIP(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	if h.auditor != nil {
		err := h.auditor.EnqueueAudit(r.Context(), shared.AuditLog{
			ActorID:  user.ActorID,
			Action:   "user.register",
			Entity:   "user",
			EntityID: strconv.FormatInt(user.ID, 10),
			ClientIP: clientIP(r),
		})
		if err != nil && h.logger != nil {
			h.logger.Warn("enqueue audit", slog.Any("error", err))
		}
	}

	httpx.JSON(w, http.StatusCreated, userView{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// HandleChangePassword processes POST /v1/users/{id}/password. Users may
// change their own password; changing another account's requires users.edit.
func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || targetID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "invalid user id")
		return
	}

	current, err := h.resolver.User(r.Context(), r, true)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if current.ID != targetID {
		allowed, err := h.rbac.RequestHasPermission(r.Context(), r, shared.PermUsersEdit)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if !allowed {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "cannot change another user's password")
			return
		}
	}

	var payload changePasswordRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "current_password and new_password are required")
		return
	}

	if err := h.directory.CheckUserPassword(r.Context(), payload.CurrentPassword, targetID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	target, err := h.directory.repo.FindByID(r.Context(), targetID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if target == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
		return
	}
	if err := h.directory.SetPassword(r.Context(), nil, target, payload.NewPassword); err != nil {
		httpx.RespondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
