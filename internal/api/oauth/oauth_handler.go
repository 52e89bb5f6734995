package oauth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"

	"github.com/FACorreiaa/go-user-identity/app/observability/metrics"
	"github.com/FACorreiaa/go-user-identity/internal/api"
	"github.com/FACorreiaa/go-user-identity/internal/api/auth"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// returnTargetCookie remembers where to land after the provider round trip.
const returnTargetCookie = "oauth_return_to"

// noReturnURLs are never used as a post-authentication landing page.
var noReturnURLs = []string{
	"/authentication/signin",
	"/authentication/signup",
}

// OAuthHandler handles the provider begin/callback round trip and linked
// provider management.
type OAuthHandler struct {
	linkingService IdentityLinkingService
	sessions       auth.SessionBinder
	logger         *slog.Logger
}

func NewOAuthHandler(linkingService IdentityLinkingService, sessions auth.SessionBinder, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		linkingService: linkingService,
		sessions:       sessions,
		logger:         logger,
	}
}

// Begin starts the provider flow, remembering the caller's return target.
func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if provider == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Provider is required")
		return
	}

	if target := r.URL.Query().Get("redirect_to"); rememberable(target) {
		http.SetCookie(w, &http.Cookie{
			Name:     returnTargetCookie,
			Value:    target,
			Path:     "/",
			Expires:  time.Now().Add(10 * time.Minute),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	gothic.BeginAuthHandler(w, gothic.GetContextWithProvider(r, provider))
}

// Callback completes the provider flow. Anonymous callers are signed in or
// up; signed-in callers get the provider linked to their account.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	gothUser, err := gothic.CompleteUserAuth(w, gothic.GetContextWithProvider(r, provider))
	if err != nil {
		h.logger.WarnContext(r.Context(), "OAuth callback failed",
			slog.String("provider", provider), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadGateway, "Provider authentication failed")
		return
	}

	profile := profileFromGothUser(gothUser)
	metrics.Get().OAuthCallbacksTotal.Add(r.Context(), 1)

	if userID, ok := types.GetUserIDFromContext(r.Context()); ok {
		if _, err := h.linkingService.Link(r.Context(), userID, profile); err != nil {
			api.ErrorResponseFromErr(w, r, err)
			return
		}
		http.Redirect(w, r, h.popReturnTarget(w, r, "/settings/accounts"), http.StatusFound)
		return
	}

	u, _, err := h.linkingService.FindOrCreate(r.Context(), profile)
	if err != nil {
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	if err := h.sessions.Login(w, r, u); err != nil {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to establish session")
		return
	}

	http.Redirect(w, r, h.popReturnTarget(w, r, "/"), http.StatusFound)
}

// RemoveProvider detaches a linked provider from the signed-in account.
func (h *OAuthHandler) RemoveProvider(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.GetUserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	provider := chi.URLParam(r, "provider")
	u, err := h.linkingService.RemoveProvider(r.Context(), userID, provider)
	if err != nil {
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, u.Sanitized())
}

// popReturnTarget reads and clears the remembered return target.
func (h *OAuthHandler) popReturnTarget(w http.ResponseWriter, r *http.Request, fallback string) string {
	cookie, err := r.Cookie(returnTargetCookie)
	if err != nil || !rememberable(cookie.Value) {
		return fallback
	}
	http.SetCookie(w, &http.Cookie{
		Name:     returnTargetCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return cookie.Value
}

// rememberable accepts only same-site paths outside the auth forms.
func rememberable(target string) bool {
	if target == "" || target[0] != '/' {
		return false
	}
	if len(target) > 1 && target[1] == '/' {
		// Protocol-relative URLs would make this an open redirect.
		return false
	}
	for _, blocked := range noReturnURLs {
		if target == blocked {
			return false
		}
	}
	return true
}

// profileFromGothUser normalizes a goth.User into the provider-agnostic
// profile the linking service works with.
func profileFromGothUser(gu goth.User) types.ProviderProfile {
	data := make(map[string]any, len(gu.RawData)+1)
	for k, v := range gu.RawData {
		data[k] = v
	}
	data["id"] = gu.UserID

	return types.ProviderProfile{
		Provider:        gu.Provider,
		IdentifierField: "id",
		ProviderData:    data,
		Username:        gu.NickName,
		Email:           gu.Email,
		FirstName:       gu.FirstName,
		LastName:        gu.LastName,
		DisplayName:     gu.Name,
		ProfileImageURL: gu.AvatarURL,
	}
}
