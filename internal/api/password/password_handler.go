package password

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/FACorreiaa/go-user-identity/app/observability/metrics"
	"github.com/FACorreiaa/go-user-identity/internal/api"
	"github.com/FACorreiaa/go-user-identity/internal/api/auth"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// PasswordHandler handles HTTP requests for the reset-token lifecycle.
type PasswordHandler struct {
	passwordService PasswordService
	sessions        auth.SessionBinder
	logger          *slog.Logger
}

func NewPasswordHandler(passwordService PasswordService, sessions auth.SessionBinder, logger *slog.Logger) *PasswordHandler {
	return &PasswordHandler{
		passwordService: passwordService,
		sessions:        sessions,
		logger:          logger,
	}
}

// Forgot issues and mails a reset token.
func (h *PasswordHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req ForgotRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.passwordService.Forgot(r.Context(), req.UsernameOrEmail); err != nil {
		h.logger.WarnContext(r.Context(), "Forgot password failed", slog.Any("error", err))
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	metrics.Get().PasswordResetsRequested.Add(r.Context(), 1)
	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Success: true,
		Message: "An email has been sent with further instructions.",
	})
}

// ValidateToken reports whether a reset link is still usable.
func (h *PasswordHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := h.passwordService.Validate(r.Context(), token); err != nil {
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, Response{Success: true})
}

// Reset consumes a reset token, installs the new password and signs the
// user in.
func (h *PasswordHandler) Reset(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req ResetRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.passwordService.Reset(r.Context(), token, req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Password reset failed", slog.Any("error", err))
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	sanitized := u.Sanitized()
	if err := h.sessions.Login(w, r, u); err != nil {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to establish session")
		return
	}

	metrics.Get().PasswordResetsCompleted.Add(r.Context(), 1)
	api.WriteJSONResponse(w, r, http.StatusOK, sanitized)
}

// Change rotates the signed-in user's password.
func (h *PasswordHandler) Change(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.GetUserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req ChangeRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.passwordService.Change(r.Context(), userID, req); err != nil {
		h.logger.WarnContext(r.Context(), "Password change failed", slog.Any("error", err))
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Success: true,
		Message: "Password changed successfully",
	})
}
