package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// DefaultCookieName is used when no cookie name is configured.
const DefaultCookieName = "session_token"

// Claims carried by a session token.
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// SessionBinder establishes the caller's authenticated identity for
// subsequent requests. The core calls it after signup, signin, reset and
// provider-link; transport details stay out of the services.
type SessionBinder interface {
	Login(w http.ResponseWriter, r *http.Request, u *types.User) error
	Logout(w http.ResponseWriter)
}

var _ SessionBinder = (*JWTSessionBinder)(nil)

// JWTSessionBinder implements SessionBinder with an HMAC-signed JWT in an
// HttpOnly cookie.
type JWTSessionBinder struct {
	cfg    config.AuthConfig
	logger *slog.Logger
}

func NewJWTSessionBinder(cfg config.AuthConfig, logger *slog.Logger) *JWTSessionBinder {
	return &JWTSessionBinder{cfg: cfg, logger: logger}
}

func (b *JWTSessionBinder) Login(w http.ResponseWriter, r *http.Request, u *types.User) error {
	now := time.Now()
	claims := Claims{
		UserID:   u.ID.String(),
		Username: u.Username,
		Roles:    u.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.cfg.Issuer,
			Audience:  jwt.ClaimStrings{b.cfg.Audience},
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.cfg.SessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(b.cfg.SecretKey))
	if err != nil {
		b.logger.ErrorContext(r.Context(), "Failed to sign session token", slog.Any("error", err))
		return fmt.Errorf("sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName(),
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(b.cfg.SessionTTL),
		HttpOnly: true,
		Secure:   b.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (b *JWTSessionBinder) cookieName() string {
	if b.cfg.CookieName != "" {
		return b.cfg.CookieName
	}
	return DefaultCookieName
}

func (b *JWTSessionBinder) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ParseSessionToken validates a raw token string and returns its claims.
func ParseSessionToken(tokenString string, cfg config.AuthConfig) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.SecretKey), nil
	},
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}
