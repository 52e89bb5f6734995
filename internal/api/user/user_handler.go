package user

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/go-user-identity/internal/api"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// UserHandler handles profile endpoints and the admin user surface.
// invalidateRoles drops a user's cached role lookup after an admin changes
// their role set, so the change takes effect on the next request.
type UserHandler struct {
	userService     UserService
	invalidateRoles func(uuid.UUID)
	logger          *slog.Logger
}

func NewUserHandler(userService UserService, invalidateRoles func(uuid.UUID), logger *slog.Logger) *UserHandler {
	return &UserHandler{
		userService:     userService,
		invalidateRoles: invalidateRoles,
		logger:          logger,
	}
}

// currentUserID reads the authenticated user ID placed by the session
// middleware.
func currentUserID(r *http.Request) (uuid.UUID, bool) {
	return types.GetUserIDFromContext(r.Context())
}

// Me returns the signed-in user's sanitized profile including linked
// providers.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	u, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, profileResponse(u))
}

// UpdateMe applies profile changes to the signed-in user.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var params types.UpdateProfileParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.userService.UpdateProfile(r.Context(), userID, params)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Profile update failed", slog.Any("error", err))
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, profileResponse(u))
}

// List returns every account. Admin only; the policy gate enforces it.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	out := make([]types.User, 0, len(users))
	for i := range users {
		out = append(out, users[i].Sanitized())
	}
	api.WriteJSONResponse(w, r, http.StatusOK, out)
}

// Get returns one account by ID. Admin only.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	u, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, u.Sanitized())
}

// Update applies administrative changes to an account. Admin only.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var params types.AdminUpdateParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.userService.AdminUpdate(r.Context(), id, params)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Admin update failed", slog.Any("error", err))
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	if params.Roles != nil && h.invalidateRoles != nil {
		h.invalidateRoles(u.ID)
	}
	api.WriteJSONResponse(w, r, http.StatusOK, u.Sanitized())
}

// Delete removes an account. Admin only.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	if err := h.userService.Delete(r.Context(), id); err != nil {
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}

// profileResponse augments the sanitized user with its linked providers so
// the settings page can render the connect/disconnect buttons.
func profileResponse(u *types.User) map[string]any {
	return map[string]any{
		"user":      u.Sanitized(),
		"providers": u.LinkedProviders(),
	}
}
