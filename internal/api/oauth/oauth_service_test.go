package oauth

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/api/user"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

func newTestLinkingService(repo user.UserRepo) *IdentityLinkingServiceImpl {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	accounts := config.AccountsConfig{ReservedUsernames: []string{"admin"}}
	return NewIdentityLinkingService(repo, accounts, logger)
}

func githubProfile(id, nickname, email string) types.ProviderProfile {
	return types.ProviderProfile{
		Provider:        "github",
		IdentifierField: "id",
		ProviderData:    map[string]any{"id": id, "login": nickname},
		Username:        nickname,
		Email:           email,
		DisplayName:     nickname,
	}
}

func seedLocalUser(t *testing.T, repo user.UserRepo, username, email string) *types.User {
	t.Helper()
	u, err := repo.Insert(context.Background(), &types.User{
		Username:     username,
		Email:        &email,
		Provider:     types.LocalProvider,
		PasswordSalt: "salt",
		PasswordHash: "digest",
		Roles:        types.DefaultRoles(),
	})
	require.NoError(t, err)
	return u
}

func TestIdentityLinkingService_FindOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a federated account on first callback", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)

		u, created, err := svc.FindOrCreate(ctx, githubProfile("gh-123", "octocat", "Octo@Example.com"))
		require.NoError(t, err)

		assert.True(t, created)
		assert.Equal(t, "octocat", u.Username)
		assert.Equal(t, "github", u.Provider)
		require.NotNil(t, u.Email)
		assert.Equal(t, "octo@example.com", *u.Email)
		assert.Equal(t, types.DefaultRoles(), u.Roles)
		assert.Empty(t, u.PasswordHash)
	})

	t.Run("returns the existing account on repeat callbacks", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)

		first, created, err := svc.FindOrCreate(ctx, githubProfile("gh-123", "octocat", "octo@example.com"))
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := svc.FindOrCreate(ctx, githubProfile("gh-123", "octocat", "octo@example.com"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("matches an identity merged into another account", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)

		local := seedLocalUser(t, repo, "alice", "alice@example.com")
		linked, err := svc.Link(ctx, local.ID, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)

		found, created, err := svc.FindOrCreate(ctx, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, linked.ID, found.ID)
	})

	t.Run("suffixes a taken username", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)
		seedLocalUser(t, repo, "octocat", "cat@example.com")

		u, _, err := svc.FindOrCreate(ctx, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)
		assert.Equal(t, "octocat1", u.Username)
	})

	t.Run("accounts without an address coexist", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)

		_, _, err := svc.FindOrCreate(ctx, githubProfile("gh-1", "one", ""))
		require.NoError(t, err)
		u, _, err := svc.FindOrCreate(ctx, githubProfile("gh-2", "two", ""))
		require.NoError(t, err)
		assert.Nil(t, u.Email)
	})

	t.Run("rejects a profile without an identifier", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)

		profile := githubProfile("", "octocat", "")
		_, _, err := svc.FindOrCreate(ctx, profile)
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestIdentityLinkingService_Link(t *testing.T) {
	ctx := context.Background()

	t.Run("merges the provider into the account", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)
		local := seedLocalUser(t, repo, "alice", "alice@example.com")

		updated, err := svc.Link(ctx, local.ID, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)

		require.Contains(t, updated.AdditionalProvidersData, "github")
		assert.Equal(t, "gh-123", updated.AdditionalProvidersData["github"]["id"])
		assert.Equal(t, types.LocalProvider, updated.Provider)
	})

	t.Run("rejects linking the primary provider again", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)

		u, _, err := svc.FindOrCreate(ctx, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)

		_, err = svc.Link(ctx, u.ID, githubProfile("gh-456", "othercat", ""))
		assert.ErrorIs(t, err, types.ErrAlreadyConnectedUsingProvider)
	})

	t.Run("rejects linking a provider twice", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)
		local := seedLocalUser(t, repo, "alice", "alice@example.com")

		_, err := svc.Link(ctx, local.ID, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)
		_, err = svc.Link(ctx, local.ID, githubProfile("gh-456", "othercat", ""))
		assert.ErrorIs(t, err, types.ErrAlreadyConnectedUsingProvider)
	})

	t.Run("identity owned by another account leaves both untouched", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)

		owner, _, err := svc.FindOrCreate(ctx, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)
		local := seedLocalUser(t, repo, "alice", "alice@example.com")

		_, err = svc.Link(ctx, local.ID, githubProfile("gh-123", "octocat", ""))
		require.ErrorIs(t, err, types.ErrAlreadyConnectedToAnotherUser)

		ownerAfter, err := repo.FindByID(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, "github", ownerAfter.Provider)
		assert.Empty(t, ownerAfter.AdditionalProvidersData)

		localAfter, err := repo.FindByID(ctx, local.ID)
		require.NoError(t, err)
		assert.Empty(t, localAfter.AdditionalProvidersData)
	})
}

func TestIdentityLinkingService_RemoveProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("detaches a linked provider", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)
		local := seedLocalUser(t, repo, "alice", "alice@example.com")

		_, err := svc.Link(ctx, local.ID, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)

		updated, err := svc.RemoveProvider(ctx, local.ID, "github")
		require.NoError(t, err)
		assert.NotContains(t, updated.AdditionalProvidersData, "github")
	})

	t.Run("refuses to remove the primary provider", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)

		u, _, err := svc.FindOrCreate(ctx, githubProfile("gh-123", "octocat", ""))
		require.NoError(t, err)

		_, err = svc.RemoveProvider(ctx, u.ID, "github")
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("unknown provider fails", func(t *testing.T) {
		repo := user.NewInMemoryUserRepo()
		svc := newTestLinkingService(repo)
		local := seedLocalUser(t, repo, "alice", "alice@example.com")

		_, err := svc.RemoveProvider(ctx, local.ID, "github")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}
