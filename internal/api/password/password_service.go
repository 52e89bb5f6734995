package password

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/api/auth"
	"github.com/FACorreiaa/go-user-identity/internal/api/user"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// resetTokenBytes of randomness per token, hex-encoded for the mail link.
const resetTokenBytes = 20

const defaultResetTTL = time.Hour

var _ PasswordService = (*PasswordServiceImpl)(nil)

// PasswordService covers the reset-token lifecycle and in-session password
// changes for local accounts.
type PasswordService interface {
	// Forgot issues a reset token for the matching local account and mails
	// the reset link. A newly issued token replaces any earlier one.
	Forgot(ctx context.Context, usernameOrEmail string) error

	// Validate checks a token without consuming it, so the reset form can
	// reject dead links before asking for a new password.
	Validate(ctx context.Context, token string) (*types.User, error)

	// Reset consumes a valid token and installs the new password. A
	// mismatched confirmation leaves the token live.
	Reset(ctx context.Context, token string, req ResetRequest) (*types.User, error)

	// Change rotates the password of a signed-in local user after checking
	// the current one.
	Change(ctx context.Context, userID uuid.UUID, req ChangeRequest) (*types.User, error)
}

// PasswordServiceImpl implements PasswordService against the user store and
// a mail notifier.
type PasswordServiceImpl struct {
	logger   *slog.Logger
	repo     user.UserRepo
	notifier Notifier
	reset    config.ResetConfig
	accounts config.AccountsConfig
}

func NewPasswordService(repo user.UserRepo, notifier Notifier, reset config.ResetConfig, accounts config.AccountsConfig, logger *slog.Logger) *PasswordServiceImpl {
	return &PasswordServiceImpl{
		logger:   logger,
		repo:     repo,
		notifier: notifier,
		reset:    reset,
		accounts: accounts,
	}
}

func (s *PasswordServiceImpl) Forgot(ctx context.Context, usernameOrEmail string) error {
	l := s.logger.With(slog.String("method", "Forgot"))

	identifier := strings.ToLower(strings.TrimSpace(usernameOrEmail))
	if identifier == "" {
		return fmt.Errorf("%w: username or email is required", types.ErrValidation)
	}

	u, err := s.repo.FindOne(ctx, user.Or(
		user.Eq("username", identifier),
		user.Eq("email", identifier),
	))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: no account with that username has been found", types.ErrNotFound)
		}
		return fmt.Errorf("forgot lookup: %w", err)
	}

	if !u.IsLocal() {
		return fmt.Errorf("%w: it seems like you signed up using your %s account", types.ErrWrongProvider, u.Provider)
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}

	ttl := s.reset.TokenTTL
	if ttl <= 0 {
		ttl = defaultResetTTL
	}
	expiresAt := time.Now().Add(ttl)

	// Persist before mailing so a delivery retry can reuse the stored token.
	if err := s.repo.SetResetToken(ctx, u.ID, token, expiresAt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	resetURL := strings.TrimRight(s.reset.BaseURL, "/") + "/api/auth/password/reset/" + token
	if err := s.notifier.SendResetLink(ctx, u, resetURL); err != nil {
		l.ErrorContext(ctx, "Failed to send reset link",
			slog.String("username", u.Username), slog.Any("error", err))
		return fmt.Errorf("failure sending email: %w", err)
	}

	l.InfoContext(ctx, "Reset token issued", slog.String("username", u.Username))
	return nil
}

func (s *PasswordServiceImpl) Validate(ctx context.Context, token string) (*types.User, error) {
	u, err := s.repo.FindByValidResetToken(ctx, token, time.Now())
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidToken) {
			return nil, types.ErrInvalidToken
		}
		return nil, fmt.Errorf("validate reset token: %w", err)
	}
	return u, nil
}

func (s *PasswordServiceImpl) Reset(ctx context.Context, token string, req ResetRequest) (*types.User, error) {
	l := s.logger.With(slog.String("method", "Reset"))

	// Confirmation mismatch must not burn the token.
	if req.NewPassword != req.VerifyPassword {
		return nil, fmt.Errorf("%w: passwords do not match", types.ErrPasswordMismatch)
	}
	if err := auth.ValidatePasswordStrength(req.NewPassword, s.accounts); err != nil {
		return nil, err
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return nil, err
	}
	digest := auth.HashPassword(req.NewPassword, salt)

	u, err := s.repo.ConsumeResetToken(ctx, token, digest, salt, time.Now())
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidToken) {
			return nil, types.ErrInvalidToken
		}
		return nil, fmt.Errorf("consume reset token: %w", err)
	}

	// The password is already changed; a lost confirmation mail is only
	// worth a log line.
	if err := s.notifier.SendResetConfirmation(ctx, u); err != nil {
		l.WarnContext(ctx, "Failed to send reset confirmation",
			slog.String("username", u.Username), slog.Any("error", err))
	}

	l.InfoContext(ctx, "Password reset completed", slog.String("username", u.Username))
	return u, nil
}

func (s *PasswordServiceImpl) Change(ctx context.Context, userID uuid.UUID, req ChangeRequest) (*types.User, error) {
	l := s.logger.With(slog.String("method", "Change"))

	if req.NewPassword != req.VerifyPassword {
		return nil, fmt.Errorf("%w: passwords do not match", types.ErrPasswordMismatch)
	}
	if err := auth.ValidatePasswordStrength(req.NewPassword, s.accounts); err != nil {
		return nil, err
	}

	u, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("change password lookup: %w", err)
	}
	if u.PasswordHash == "" || !auth.VerifyPassword(req.CurrentPassword, u.PasswordSalt, u.PasswordHash) {
		return nil, fmt.Errorf("%w: current password is incorrect", types.ErrValidation)
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return nil, err
	}
	u.PasswordSalt = salt
	u.PasswordHash = auth.HashPassword(req.NewPassword, salt)
	u.ResetPasswordToken = nil
	u.ResetPasswordExpiresAt = nil

	updated, err := s.repo.Update(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("change password update: %w", err)
	}

	if err := s.notifier.SendResetConfirmation(ctx, updated); err != nil {
		l.WarnContext(ctx, "Failed to send change confirmation",
			slog.String("username", updated.Username), slog.Any("error", err))
	}
	return updated, nil
}

func newResetToken() (string, error) {
	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
