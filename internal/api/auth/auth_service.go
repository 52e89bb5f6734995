package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/api/user"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// insertRetries bounds how often signup re-resolves a username after losing
// a probe-then-insert race to a concurrent registration.
const insertRetries = 5

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService defines local-credential account operations.
type AuthService interface {
	// Signup creates a local-provider account. The requested username must
	// pass validation (including the reserved list); concurrent signups
	// racing on the same name are resolved with numeric suffixes.
	Signup(ctx context.Context, req SignupRequest) (*types.User, error)

	// Signin authenticates by username-or-email plus password. All failure
	// modes collapse into types.ErrUnauthenticated.
	Signin(ctx context.Context, usernameOrEmail, password string) (*types.User, error)
}

// AuthServiceImpl implements AuthService against the user store.
type AuthServiceImpl struct {
	logger   *slog.Logger
	repo     user.UserRepo
	accounts config.AccountsConfig
}

func NewAuthService(repo user.UserRepo, accounts config.AccountsConfig, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger:   logger,
		repo:     repo,
		accounts: accounts,
	}
}

func (s *AuthServiceImpl) Signup(ctx context.Context, req SignupRequest) (*types.User, error) {
	l := s.logger.With(slog.String("method", "Signup"))

	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if err := ValidateUsername(username, s.accounts.ReservedUsernames); err != nil {
		return nil, err
	}
	// Local accounts always carry a syntactically valid address.
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: please fill a valid email address", types.ErrValidation)
	}
	if err := ValidatePasswordStrength(req.Password, s.accounts); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < insertRetries; attempt++ {
		resolved, err := ResolveUniqueUsername(ctx, s.repo, username, s.accounts.ReservedUsernames)
		if err != nil {
			return nil, err
		}

		salt, err := NewSalt()
		if err != nil {
			return nil, err
		}

		displayName := req.FullName
		if displayName == "" {
			displayName = resolved
		}

		u := &types.User{
			Username:     resolved,
			Email:        &email,
			FullName:     req.FullName,
			DisplayName:  displayName,
			Provider:     types.LocalProvider,
			PasswordSalt: salt,
			PasswordHash: HashPassword(req.Password, salt),
			Roles:        types.DefaultRoles(),
		}

		created, err := s.repo.Insert(ctx, u)
		if err == nil {
			l.InfoContext(ctx, "User registered", slog.String("username", created.Username))
			return created, nil
		}
		if !errors.Is(err, types.ErrConflict) {
			return nil, err
		}

		// The unique constraint is the final authority. If the email is what
		// collided, retrying resolution cannot help.
		if _, lookupErr := s.repo.FindOne(ctx, user.Eq("email", email)); lookupErr == nil {
			return nil, fmt.Errorf("%w: email is already in use", types.ErrConflict)
		}
		l.WarnContext(ctx, "Signup lost username race, re-resolving",
			slog.String("username", resolved), slog.Int("attempt", attempt+1))
	}
	return nil, types.ErrResolutionExhausted
}

func (s *AuthServiceImpl) Signin(ctx context.Context, usernameOrEmail, password string) (*types.User, error) {
	identifier := strings.ToLower(strings.TrimSpace(usernameOrEmail))
	if identifier == "" || password == "" {
		return nil, types.ErrUnauthenticated
	}

	u, err := s.repo.FindOne(ctx, user.Or(
		user.Eq("username", identifier),
		user.Eq("email", identifier),
	))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			// Same outcome as a bad password: no account enumeration.
			return nil, types.ErrUnauthenticated
		}
		return nil, fmt.Errorf("signin lookup: %w", err)
	}

	// Federated-only accounts have no local digest; the degraded unsalted
	// hash path must never let an empty digest authenticate.
	if u.PasswordHash == "" || !VerifyPassword(password, u.PasswordSalt, u.PasswordHash) {
		return nil, types.ErrUnauthenticated
	}
	return u, nil
}

// ValidatePasswordStrength enforces the configured length bounds. Every path
// that sets a password (signup, reset, change) goes through it.
func ValidatePasswordStrength(password string, accounts config.AccountsConfig) error {
	min, max := accounts.PasswordMinLength, accounts.PasswordMaxLength
	if min <= 0 {
		min = 10
	}
	if max <= 0 {
		max = 128
	}
	if len(password) < min {
		return fmt.Errorf("%w: password must be at least %d characters long", types.ErrValidation, min)
	}
	if len(password) > max {
		return fmt.Errorf("%w: password must be no longer than %d characters", types.ErrValidation, max)
	}
	return nil
}
