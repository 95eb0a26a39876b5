package apikeys

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/platform/httpx"
	"github.com/armada-fleet/armada/internal/shared"
)

// Auditor records issuance events out of band.
type Auditor interface {
	EnqueueAudit(ctx context.Context, log shared.AuditLog) error
}

// Handler exposes the key-issuance endpoint.
type Handler struct {
	issuer   *Issuer
	resolver *auth.Resolver
	auditor  Auditor
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs a Handler. auditor may be nil.
func NewHandler(issuer *Issuer, resolver *auth.Resolver, auditor Auditor, logger *slog.Logger) *Handler {
	return &Handler{
		issuer:   issuer,
		resolver: resolver,
		auditor:  auditor,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type createKeyRequest struct {
	ActorType   string `json:"actor_type" validate:"required"`
	ActorID     int64  `json:"actor_id" validate:"required,gt=0"`
	Role        string `json:"role" validate:"required"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createKeyResponse struct {
	Key string `json:"key"`
}

// HandleCreate processes POST /v1/api-keys.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var payload createKeyRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "actor_type, actor_id and role are required")
		return
	}

	// Optional resolution: a userless API-key identity may still hold the
	// permissions the issuance check requires.
	if _, err := h.resolver.User(r.Context(), r, false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var creds *auth.Credentials
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		creds = id.Credentials()
	}

	key, err := h.issuer.Create(r.Context(), creds, ActorType(payload.ActorType), payload.Role, payload.ActorID, CreateOptions{
		Name:        payload.Name,
		Description: payload.Description,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	if h.auditor != nil {
		audit := shared.AuditLog{
			Action:   "apikey.create",
			Entity:   payload.ActorType,
			EntityID: strconv.FormatInt(payload.ActorID, 10),
			Meta:     map[string]any{"role": payload.Role},
		}
		if creds != nil && creds.User != nil {
			audit.ActorID = creds.User.ActorID
		}
		if err := h.auditor.EnqueueAudit(r.Context(), audit); err != nil && h.logger != nil {
			h.logger.Warn("enqueue audit", slog.Any("error", err))
		}
	}

	httpx.JSON(w, http.StatusCreated, createKeyResponse{Key: key})
}
