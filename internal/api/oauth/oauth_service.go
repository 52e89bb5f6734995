package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/api/auth"
	"github.com/FACorreiaa/go-user-identity/internal/api/user"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// findOrCreateRetries bounds retry after losing an insert race to a
// concurrent callback for the same provider identity.
const findOrCreateRetries = 3

var _ IdentityLinkingService = (*IdentityLinkingServiceImpl)(nil)

// IdentityLinkingService resolves provider profiles to accounts: sign-in or
// sign-up for anonymous callbacks, identity linking for signed-in ones.
type IdentityLinkingService interface {
	// FindOrCreate returns the account owning the provider identity,
	// creating a federated account when none exists. The boolean reports
	// whether a new account was created.
	FindOrCreate(ctx context.Context, profile types.ProviderProfile) (*types.User, bool, error)

	// Link attaches the provider identity to an existing account. An
	// identity owned by any account, including the caller's, cannot be
	// linked again.
	Link(ctx context.Context, userID uuid.UUID, profile types.ProviderProfile) (*types.User, error)

	// RemoveProvider detaches a linked provider from the account. The
	// account's primary provider cannot be removed.
	RemoveProvider(ctx context.Context, userID uuid.UUID, provider string) (*types.User, error)
}

// IdentityLinkingServiceImpl implements IdentityLinkingService against the
// user store.
type IdentityLinkingServiceImpl struct {
	logger   *slog.Logger
	repo     user.UserRepo
	accounts config.AccountsConfig
}

func NewIdentityLinkingService(repo user.UserRepo, accounts config.AccountsConfig, logger *slog.Logger) *IdentityLinkingServiceImpl {
	return &IdentityLinkingServiceImpl{
		logger:   logger,
		repo:     repo,
		accounts: accounts,
	}
}

// identityQuery matches the account owning a provider identity, whether the
// provider is the account's primary one or merged into its additional data.
func identityQuery(profile types.ProviderProfile) user.Query {
	return user.Or(
		user.Query{Terms: map[string]string{
			"provider": profile.Provider,
			"providerData." + profile.IdentifierField: profile.Identifier(),
		}},
		user.Eq(
			"additionalProvidersData."+profile.Provider+"."+profile.IdentifierField,
			profile.Identifier(),
		),
	)
}

func (s *IdentityLinkingServiceImpl) FindOrCreate(ctx context.Context, profile types.ProviderProfile) (*types.User, bool, error) {
	l := s.logger.With(slog.String("method", "FindOrCreate"), slog.String("provider", profile.Provider))

	if err := validateProfile(profile); err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < findOrCreateRetries; attempt++ {
		existing, err := s.repo.FindOne(ctx, identityQuery(profile))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, false, fmt.Errorf("provider identity lookup: %w", err)
		}

		created, err := s.createFromProfile(ctx, profile)
		if err == nil {
			l.InfoContext(ctx, "Federated account created", slog.String("username", created.Username))
			return created, true, nil
		}
		if !errors.Is(err, types.ErrConflict) {
			return nil, false, err
		}
		// Lost the race to a concurrent callback for the same identity;
		// the next lookup should find the winner's account.
		l.WarnContext(ctx, "Federated signup lost insert race, retrying lookup",
			slog.Int("attempt", attempt+1))
	}
	return nil, false, types.ErrResolutionExhausted
}

func (s *IdentityLinkingServiceImpl) createFromProfile(ctx context.Context, profile types.ProviderProfile) (*types.User, error) {
	seed := usernameSeed(profile)
	resolved, err := auth.ResolveUniqueUsername(ctx, s.repo, seed, s.accounts.ReservedUsernames)
	if err != nil {
		return nil, err
	}

	fullName := strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	displayName := profile.DisplayName
	if displayName == "" {
		displayName = fullName
	}
	if displayName == "" {
		displayName = resolved
	}

	u := &types.User{
		Username:        resolved,
		FullName:        fullName,
		DisplayName:     displayName,
		ProfileImageURL: profile.ProfileImageURL,
		Provider:        profile.Provider,
		ProviderData:    profile.ProviderData,
		Roles:           types.DefaultRoles(),
	}
	// Providers do not always share an address; the email stays absent
	// rather than empty so the sparse uniqueness rule ignores it.
	if email := strings.ToLower(strings.TrimSpace(profile.Email)); email != "" {
		u.Email = &email
	}

	return s.repo.Insert(ctx, u)
}

func (s *IdentityLinkingServiceImpl) Link(ctx context.Context, userID uuid.UUID, profile types.ProviderProfile) (*types.User, error) {
	l := s.logger.With(slog.String("method", "Link"), slog.String("provider", profile.Provider))

	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	current, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("link lookup: %w", err)
	}

	// Refuse before touching anything: a linked identity stays with its
	// owner and an account carries one identity per provider.
	if current.Provider == profile.Provider || current.AdditionalProvidersData[profile.Provider] != nil {
		return nil, types.ErrAlreadyConnectedUsingProvider
	}

	owner, err := s.repo.FindOne(ctx, identityQuery(profile))
	switch {
	case err == nil:
		if owner.ID == current.ID {
			return nil, types.ErrAlreadyConnectedUsingProvider
		}
		return nil, types.ErrAlreadyConnectedToAnotherUser
	case !errors.Is(err, types.ErrNotFound):
		return nil, fmt.Errorf("link owner lookup: %w", err)
	}

	if current.AdditionalProvidersData == nil {
		current.AdditionalProvidersData = make(map[string]map[string]any)
	}
	current.AdditionalProvidersData[profile.Provider] = profile.ProviderData

	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("link update: %w", err)
	}
	l.InfoContext(ctx, "Provider linked", slog.String("username", updated.Username))
	return updated, nil
}

func (s *IdentityLinkingServiceImpl) RemoveProvider(ctx context.Context, userID uuid.UUID, provider string) (*types.User, error) {
	l := s.logger.With(slog.String("method", "RemoveProvider"), slog.String("provider", provider))

	current, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("remove provider lookup: %w", err)
	}

	if current.Provider == provider {
		return nil, fmt.Errorf("%w: the primary sign-in provider cannot be removed", types.ErrValidation)
	}
	if current.AdditionalProvidersData[provider] == nil {
		return nil, fmt.Errorf("%w: provider %q is not linked", types.ErrNotFound, provider)
	}

	delete(current.AdditionalProvidersData, provider)

	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("remove provider update: %w", err)
	}
	l.InfoContext(ctx, "Provider removed", slog.String("username", updated.Username))
	return updated, nil
}

func validateProfile(profile types.ProviderProfile) error {
	if profile.Provider == "" {
		return fmt.Errorf("%w: provider is required", types.ErrValidation)
	}
	if profile.IdentifierField == "" {
		return fmt.Errorf("%w: provider identifier field is required", types.ErrValidation)
	}
	if profile.Identifier() == "" {
		return fmt.Errorf("%w: provider profile carries no identifier", types.ErrValidation)
	}
	return nil
}

// usernameSeed picks the best base for a federated account's username:
// provider username, then the email local part, then the display name.
func usernameSeed(profile types.ProviderProfile) string {
	if profile.Username != "" {
		return profile.Username
	}
	if profile.Email != "" {
		if at := strings.Index(profile.Email, "@"); at > 0 {
			return profile.Email[:at]
		}
	}
	if profile.DisplayName != "" {
		return profile.DisplayName
	}
	return "user"
}
