package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/platform/httpx"
)

// Handler exposes the login endpoint.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler constructs a Handler. metrics may be nil.
func NewHandler(service *Service, logger *slog.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		service:  service,
		logger:   logger,
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string        `json:"token"`
	User  loginUserView `json:"user"`
}

type loginUserView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleLogin processes POST /v1/auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "login and password are required")
		return
	}

	token, user, err := h.service.Login(r.Context(), payload.Login, payload.Password, clientIP(r))
	if err != nil {
		if errors.Is(err, ErrThrottled) {
			h.metrics.RecordLogin("throttled")
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", err.Error())
			return
		}
		h.metrics.RecordLogin("failure")
		httpx.RespondError(w, err)
		return
	}
	h.metrics.RecordLogin("success")

	httpx.JSON(w, http.StatusOK, loginResponse{
		Token: token,
		User: loginUserView{
			ID:        user.ID,
			Username:  user.Username,
			Email:     user.Email,
			CreatedAt: user.CreatedAt,
		},
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
