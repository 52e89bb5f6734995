package auth

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/FACorreiaa/go-user-identity/app/observability/metrics"
	"github.com/FACorreiaa/go-user-identity/internal/api"
)

// AuthHandler handles HTTP requests for local authentication.
type AuthHandler struct {
	authService AuthService
	sessions    SessionBinder
	logger      *slog.Logger
}

func NewAuthHandler(authService AuthService, sessions SessionBinder, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		logger:      logger,
	}
}

// Signup creates a local account and binds a session for it.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SignupRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Username, email and password are required")
		return
	}

	u, err := h.authService.Signup(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Signup failed", slog.Any("error", err))
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	// authenticate -> sanitize -> bind session -> respond
	sanitized := u.Sanitized()
	if err := h.sessions.Login(w, r, u); err != nil {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to establish session")
		return
	}

	m := metrics.Get()
	m.SignupRequestsTotal.Add(r.Context(), 1)
	m.AuthDurationSeconds.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("operation", "signup")))

	api.WriteJSONResponse(w, r, http.StatusCreated, UserResponse{User: sanitized})
}

// Signin authenticates by username-or-email and password.
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SigninRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.UsernameOrEmail == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Username/email and password are required")
		return
	}

	u, err := h.authService.Signin(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Signin failed", slog.Any("error", err))
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	sanitized := u.Sanitized()
	if err := h.sessions.Login(w, r, u); err != nil {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to establish session")
		return
	}

	m := metrics.Get()
	m.SigninRequestsTotal.Add(r.Context(), 1)
	m.AuthDurationSeconds.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("operation", "signin")))

	api.WriteJSONResponse(w, r, http.StatusOK, UserResponse{User: sanitized})
}

// Signout clears the caller's session cookie.
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(w)
	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Success: true,
		Message: "Signed out successfully",
	})
}
