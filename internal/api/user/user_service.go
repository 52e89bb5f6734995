package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/go-user-identity/internal/types"
)

var _ UserService = (*UserServiceImpl)(nil)

// UserService covers profile management and the admin user surface.
type UserService interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.User, error)

	// UpdateProfile applies the provided fields to the user's own profile.
	// Usernames are immutable; they are resolved once at account creation.
	UpdateProfile(ctx context.Context, id uuid.UUID, params types.UpdateProfileParams) (*types.User, error)

	// AdminUpdate applies administrative changes to any account: full name
	// and the role set. Every account carries at least one role, so a
	// provided role list must be non-empty with no blank tags.
	AdminUpdate(ctx context.Context, id uuid.UUID, params types.AdminUpdateParams) (*types.User, error)

	List(ctx context.Context) ([]types.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// UserServiceImpl implements UserService against the user store.
type UserServiceImpl struct {
	logger *slog.Logger
	repo   UserRepo
}

func NewUserService(repo UserRepo, logger *slog.Logger) *UserServiceImpl {
	return &UserServiceImpl{logger: logger, repo: repo}
}

func (s *UserServiceImpl) GetByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *UserServiceImpl) UpdateProfile(ctx context.Context, id uuid.UUID, params types.UpdateProfileParams) (*types.User, error) {
	l := s.logger.With(slog.String("method", "UpdateProfile"))

	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}

	if params.FullName != nil {
		u.FullName = strings.TrimSpace(*params.FullName)
	}
	if params.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*params.DisplayName)
	}
	if params.ProfileImageURL != nil {
		u.ProfileImageURL = strings.TrimSpace(*params.ProfileImageURL)
	}
	if params.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*params.Email))
		if email == "" {
			// Local accounts must stay reachable for the reset flow.
			if u.IsLocal() {
				return nil, fmt.Errorf("%w: email is required", types.ErrValidation)
			}
			u.Email = nil
		} else {
			if _, err := mail.ParseAddress(email); err != nil {
				return nil, fmt.Errorf("%w: please fill a valid email address", types.ErrValidation)
			}
			u.Email = &email
		}
	}

	updated, err := s.repo.Update(ctx, u)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			return nil, fmt.Errorf("%w: email is already in use", types.ErrConflict)
		}
		return nil, fmt.Errorf("profile update: %w", err)
	}
	l.InfoContext(ctx, "Profile updated", slog.String("username", updated.Username))
	return updated, nil
}

func (s *UserServiceImpl) AdminUpdate(ctx context.Context, id uuid.UUID, params types.AdminUpdateParams) (*types.User, error) {
	l := s.logger.With(slog.String("method", "AdminUpdate"))

	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("admin lookup: %w", err)
	}

	if params.FullName != nil {
		u.FullName = strings.TrimSpace(*params.FullName)
	}
	if params.Roles != nil {
		roles, err := normalizeRoles(params.Roles)
		if err != nil {
			return nil, err
		}
		u.Roles = roles
	}

	updated, err := s.repo.Update(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("admin update: %w", err)
	}
	l.InfoContext(ctx, "Account updated by admin",
		slog.String("username", updated.Username),
		slog.Any("roles", updated.Roles))
	return updated, nil
}

// normalizeRoles lowercases and trims role tags, rejecting blank tags and
// an empty list.
func normalizeRoles(roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: accounts need at least one role", types.ErrValidation)
	}
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			return nil, fmt.Errorf("%w: role tags must not be blank", types.ErrValidation)
		}
		out = append(out, role)
	}
	return out, nil
}

func (s *UserServiceImpl) List(ctx context.Context) ([]types.User, error) {
	return s.repo.List(ctx)
}

func (s *UserServiceImpl) Delete(ctx context.Context, id uuid.UUID) error {
	l := s.logger.With(slog.String("method", "Delete"))
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	l.InfoContext(ctx, "User deleted", slog.String("userID", id.String()))
	return nil
}
