package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/api"
	"github.com/FACorreiaa/go-user-identity/internal/api/user"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// Middleware validates session tokens and resolves the caller's roles.
type Middleware struct {
	cfg    config.AuthConfig
	repo   user.UserRepo
	logger *slog.Logger
	roles  *gocache.Cache
}

func NewMiddleware(cfg config.AuthConfig, repo user.UserRepo, logger *slog.Logger) *Middleware {
	return &Middleware{
		cfg:    cfg,
		repo:   repo,
		logger: logger,
		// Role changes take effect on the next cache expiry at the latest.
		roles: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// Authenticate requires a valid session and attaches the user's identity to
// the request context. Requests without a valid token get a 401.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := m.extractToken(r)
		if tokenString == "" {
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}

		claims, err := ParseSessionToken(tokenString, m.cfg)
		if err != nil {
			m.logger.DebugContext(r.Context(), "Session token rejected", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}

		roles, err := m.resolveRoles(r.Context(), userID, claims.Roles)
		if err != nil {
			// User deleted since the token was issued.
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), types.UserIDKey, userID)
		ctx = context.WithValue(ctx, types.UserRolesKey, roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches identity when a valid session is present but lets
// anonymous requests through untouched.
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := m.extractToken(r)
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseSessionToken(tokenString, m.cfg)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		roles, err := m.resolveRoles(r.Context(), userID, claims.Roles)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), types.UserIDKey, userID)
		ctx = context.WithValue(ctx, types.UserRolesKey, roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveRoles prefers the store's current roles over the ones baked into the
// token so that role revocations do not have to wait for token expiry.
func (m *Middleware) resolveRoles(ctx context.Context, userID uuid.UUID, tokenRoles []string) ([]string, error) {
	key := userID.String()
	if cached, found := m.roles.Get(key); found {
		return cached.([]string), nil
	}

	u, err := m.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles := u.Roles
	if len(roles) == 0 {
		roles = tokenRoles
	}
	m.roles.Set(key, roles, gocache.DefaultExpiration)
	return roles, nil
}

// InvalidateRoles drops the cached roles for a user after a role change.
func (m *Middleware) InvalidateRoles(userID uuid.UUID) {
	m.roles.Delete(userID.String())
}

func (m *Middleware) extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
	}
	cookieName := m.cfg.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}
