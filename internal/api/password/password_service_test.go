package password

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/api/auth"
	"github.com/FACorreiaa/go-user-identity/internal/api/user"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

type recordingNotifier struct {
	resetURLs     []string
	confirmations int
	sendErr       error
}

func (n *recordingNotifier) SendResetLink(_ context.Context, _ *types.User, resetURL string) error {
	n.resetURLs = append(n.resetURLs, resetURL)
	return n.sendErr
}

func (n *recordingNotifier) SendResetConfirmation(_ context.Context, _ *types.User) error {
	n.confirmations++
	return nil
}

// lastToken extracts the token from the most recently mailed reset URL.
func (n *recordingNotifier) lastToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, n.resetURLs)
	parts := strings.Split(n.resetURLs[len(n.resetURLs)-1], "/")
	return parts[len(parts)-1]
}

func newTestPasswordService(repo user.UserRepo, notifier Notifier) *PasswordServiceImpl {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reset := config.ResetConfig{TokenTTL: time.Hour, BaseURL: "http://localhost:8000"}
	accounts := config.AccountsConfig{PasswordMinLength: 10, PasswordMaxLength: 128}
	return NewPasswordService(repo, notifier, reset, accounts, logger)
}

func seedLocalUser(t *testing.T, repo user.UserRepo, username, email, password string) *types.User {
	t.Helper()
	salt, err := auth.NewSalt()
	require.NoError(t, err)
	u, err := repo.Insert(context.Background(), &types.User{
		Username:     username,
		Email:        &email,
		Provider:     types.LocalProvider,
		PasswordSalt: salt,
		PasswordHash: auth.HashPassword(password, salt),
		Roles:        types.DefaultRoles(),
	})
	require.NoError(t, err)
	return u
}

func TestPasswordService_Forgot(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a token and mails the link", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{}
		svc := newTestPasswordService(repo, notifier)
		seedLocalUser(t, repo, "alice", "alice@example.com", "s3cret-enough!")

		require.NoError(t, svc.Forgot(ctx, "alice"))

		token := notifier.lastToken(t)
		assert.Len(t, token, resetTokenBytes*2)

		u, err := svc.Validate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
	})

	t.Run("resolves by email too", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{}
		svc := newTestPasswordService(repo, notifier)
		seedLocalUser(t, repo, "alice", "alice@example.com", "s3cret-enough!")

		require.NoError(t, svc.Forgot(ctx, "Alice@Example.com"))
		assert.Len(t, notifier.resetURLs, 1)
	})

	t.Run("unknown account fails", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestPasswordService(repo, &recordingNotifier{})

		err := svc.Forgot(ctx, "ghost")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("federated account names its provider and is left untouched", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{}
		svc := newTestPasswordService(repo, notifier)

		email := "fed@example.com"
		created, err := repo.Insert(ctx, &types.User{
			Username: "federated",
			Email:    &email,
			Provider: "github",
			Roles:    types.DefaultRoles(),
		})
		require.NoError(t, err)

		err = svc.Forgot(ctx, "federated")
		require.ErrorIs(t, err, types.ErrWrongProvider)
		assert.Contains(t, err.Error(), "github")
		assert.Empty(t, notifier.resetURLs)

		after, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Nil(t, after.ResetPasswordToken)
	})

	t.Run("a new token replaces the previous one", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{}
		svc := newTestPasswordService(repo, notifier)
		seedLocalUser(t, repo, "alice", "alice@example.com", "s3cret-enough!")

		require.NoError(t, svc.Forgot(ctx, "alice"))
		first := notifier.lastToken(t)
		require.NoError(t, svc.Forgot(ctx, "alice"))
		second := notifier.lastToken(t)
		require.NotEqual(t, first, second)

		_, err := svc.Validate(ctx, first)
		assert.ErrorIs(t, err, types.ErrInvalidToken)
		_, err = svc.Validate(ctx, second)
		assert.NoError(t, err)
	})

	t.Run("mail failure surfaces but keeps the stored token", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{sendErr: errors.New("smtp down")}
		svc := newTestPasswordService(repo, notifier)
		seedLocalUser(t, repo, "alice", "alice@example.com", "s3cret-enough!")

		err := svc.Forgot(ctx, "alice")
		require.Error(t, err)

		_, err = svc.Validate(ctx, notifier.lastToken(t))
		assert.NoError(t, err)
	})
}

func TestPasswordService_Validate(t *testing.T) {
	ctx := context.Background()
	repo := user.NewInMemoryUserRepo()
	svc := newTestPasswordService(repo, &recordingNotifier{})
	u := seedLocalUser(t, repo, "alice", "alice@example.com", "s3cret-enough!")

	t.Run("rejects an unknown token", func(t *testing.T) {
		_, err := svc.Validate(ctx, "deadbeef")
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})

	t.Run("rejects an empty token", func(t *testing.T) {
		_, err := svc.Validate(ctx, "")
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		require.NoError(t, repo.SetResetToken(ctx, u.ID, "expiredtoken", time.Now().Add(-time.Minute)))
		_, err := svc.Validate(ctx, "expiredtoken")
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})
}

func TestPasswordService_Reset(t *testing.T) {
	ctx := context.Background()

	issueToken := func(t *testing.T, svc *PasswordServiceImpl, notifier *recordingNotifier) string {
		t.Helper()
		require.NoError(t, svc.Forgot(ctx, "alice"))
		return notifier.lastToken(t)
	}

	t.Run("installs the new password and consumes the token", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{}
		svc := newTestPasswordService(repo, notifier)
		seedLocalUser(t, repo, "alice", "alice@example.com", "old-password!")
		token := issueToken(t, svc, notifier)

		u, err := svc.Reset(ctx, token, ResetRequest{
			NewPassword:    "brand-new-password",
			VerifyPassword: "brand-new-password",
		})
		require.NoError(t, err)

		assert.True(t, auth.VerifyPassword("brand-new-password", u.PasswordSalt, u.PasswordHash))
		assert.False(t, auth.VerifyPassword("old-password!", u.PasswordSalt, u.PasswordHash))
		assert.Equal(t, 1, notifier.confirmations)

		// Single use: the same token cannot be replayed.
		_, err = svc.Reset(ctx, token, ResetRequest{
			NewPassword:    "another-password!",
			VerifyPassword: "another-password!",
		})
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})

	t.Run("mismatched confirmation leaves the token live", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{}
		svc := newTestPasswordService(repo, notifier)
		seedLocalUser(t, repo, "alice", "alice@example.com", "old-password!")
		token := issueToken(t, svc, notifier)

		_, err := svc.Reset(ctx, token, ResetRequest{
			NewPassword:    "brand-new-password",
			VerifyPassword: "different-password",
		})
		require.ErrorIs(t, err, types.ErrPasswordMismatch)

		_, err = svc.Validate(ctx, token)
		assert.NoError(t, err)
	})

	t.Run("weak password leaves the token live", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{}
		svc := newTestPasswordService(repo, notifier)
		seedLocalUser(t, repo, "alice", "alice@example.com", "old-password!")
		token := issueToken(t, svc, notifier)

		_, err := svc.Reset(ctx, token, ResetRequest{
			NewPassword:    "short",
			VerifyPassword: "short",
		})
		require.ErrorIs(t, err, types.ErrValidation)

		_, err = svc.Validate(ctx, token)
		assert.NoError(t, err)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		notifier := &recordingNotifier{}
		svc := newTestPasswordService(repo, notifier)
		u := seedLocalUser(t, repo, "alice", "alice@example.com", "old-password!")
		require.NoError(t, repo.SetResetToken(ctx, u.ID, "expiredtoken", time.Now().Add(-time.Minute)))

		_, err := svc.Reset(ctx, "expiredtoken", ResetRequest{
			NewPassword:    "brand-new-password",
			VerifyPassword: "brand-new-password",
		})
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})
}

func TestPasswordService_Change(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates the password with a fresh salt", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestPasswordService(repo, &recordingNotifier{})
		u := seedLocalUser(t, repo, "alice", "alice@example.com", "old-password!")
		oldSalt := u.PasswordSalt

		updated, err := svc.Change(ctx, u.ID, ChangeRequest{
			CurrentPassword: "old-password!",
			NewPassword:     "brand-new-password",
			VerifyPassword:  "brand-new-password",
		})
		require.NoError(t, err)

		assert.NotEqual(t, oldSalt, updated.PasswordSalt)
		assert.True(t, auth.VerifyPassword("brand-new-password", updated.PasswordSalt, updated.PasswordHash))
	})

	t.Run("rejects a wrong current password", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestPasswordService(repo, &recordingNotifier{})
		u := seedLocalUser(t, repo, "alice", "alice@example.com", "old-password!")

		_, err := svc.Change(ctx, u.ID, ChangeRequest{
			CurrentPassword: "not-the-password",
			NewPassword:     "brand-new-password",
			VerifyPassword:  "brand-new-password",
		})
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("rejects a mismatched confirmation", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestPasswordService(repo, &recordingNotifier{})
		u := seedLocalUser(t, repo, "alice", "alice@example.com", "old-password!")

		_, err := svc.Change(ctx, u.ID, ChangeRequest{
			CurrentPassword: "old-password!",
			NewPassword:     "brand-new-password",
			VerifyPassword:  "different-password",
		})
		assert.ErrorIs(t, err, types.ErrPasswordMismatch)
	})
}
