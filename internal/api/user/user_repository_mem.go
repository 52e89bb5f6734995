package user

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/go-user-identity/internal/types"
)

var _ UserRepo = (*InMemoryUserRepo)(nil)

// InMemoryUserRepo implements UserRepo with the same uniqueness semantics as
// the Postgres store: username, sparse email, and the provider linking key
// are all enforced under a single mutex, so concurrent probe-then-write
// races resolve exactly the way they do against the real constraint.
// It backs service tests and local development runs.
type InMemoryUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*types.User
}

func NewInMemoryUserRepo() *InMemoryUserRepo {
	return &InMemoryUserRepo{users: make(map[uuid.UUID]*types.User)}
}

func (r *InMemoryUserRepo) FindOne(_ context.Context, q Query) (*types.User, error) {
	// A predicate with no terms would match every user; the SQL store
	// refuses to build such a query, so this store refuses to answer it.
	if hasEmptyBranch(q) {
		return nil, errors.New("find one: empty query predicate")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if matches(u, q) {
			cp := cloneUser(u)
			return cp, nil
		}
	}
	return nil, types.ErrNotFound
}

func (r *InMemoryUserRepo) FindByID(_ context.Context, id uuid.UUID) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *InMemoryUserRepo) Insert(_ context.Context, u *types.User) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	if len(u.Roles) == 0 {
		u.Roles = types.DefaultRoles()
	}

	if err := r.checkConstraints(u); err != nil {
		return nil, err
	}
	r.users[u.ID] = cloneUser(u)
	return u, nil
}

func (r *InMemoryUserRepo) Update(_ context.Context, u *types.User) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.ID]; !ok {
		return nil, types.ErrNotFound
	}
	u.UpdatedAt = time.Now()
	if err := r.checkConstraints(u); err != nil {
		return nil, err
	}
	r.users[u.ID] = cloneUser(u)
	return u, nil
}

func (r *InMemoryUserRepo) List(_ context.Context) ([]types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *cloneUser(u))
	}
	return out, nil
}

func (r *InMemoryUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return types.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *InMemoryUserRepo) SetResetToken(_ context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return types.ErrNotFound
	}
	u.ResetPasswordToken = &token
	u.ResetPasswordExpiresAt = &expiresAt
	u.UpdatedAt = time.Now()
	return nil
}

func (r *InMemoryUserRepo) FindByValidResetToken(_ context.Context, token string, now time.Time) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.findByTokenLocked(token, now)
	if u == nil {
		return nil, types.ErrInvalidToken
	}
	return cloneUser(u), nil
}

func (r *InMemoryUserRepo) ConsumeResetToken(_ context.Context, token, newHash, newSalt string, now time.Time) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.findByTokenLocked(token, now)
	if u == nil {
		return nil, types.ErrInvalidToken
	}
	u.PasswordHash = newHash
	u.PasswordSalt = newSalt
	u.ResetPasswordToken = nil
	u.ResetPasswordExpiresAt = nil
	u.UpdatedAt = time.Now()
	return cloneUser(u), nil
}

func (r *InMemoryUserRepo) findByTokenLocked(token string, now time.Time) *types.User {
	if token == "" {
		return nil
	}
	for _, u := range r.users {
		if u.ResetPasswordToken != nil && *u.ResetPasswordToken == token &&
			u.ResetPasswordExpiresAt != nil && u.ResetPasswordExpiresAt.After(now) {
			return u
		}
	}
	return nil
}

func (r *InMemoryUserRepo) checkConstraints(candidate *types.User) error {
	for _, existing := range r.users {
		if existing.ID == candidate.ID {
			continue
		}
		if existing.Username == candidate.Username {
			return types.ErrConflict
		}
		if candidate.Email != nil && existing.Email != nil && *existing.Email == *candidate.Email {
			return types.ErrConflict
		}
		if key := linkingKey(candidate); key != "" && key == linkingKey(existing) {
			return types.ErrConflict
		}
	}
	return nil
}

// linkingKey mirrors the expression index on (provider, provider identifier)
// that prevents duplicate accounts for one external identity.
func linkingKey(u *types.User) string {
	if u.Provider == types.LocalProvider || u.ProviderData == nil {
		return ""
	}
	id, _ := u.ProviderData["id"].(string)
	if id == "" {
		return ""
	}
	return u.Provider + "/" + id
}

// hasEmptyBranch reports whether the query or any of its OR branches
// carries no clauses at all, mirroring the SQL builder's rejection.
func hasEmptyBranch(q Query) bool {
	for _, sub := range q.Or {
		if hasEmptyBranch(sub) {
			return true
		}
	}
	return len(q.Terms) == 0 && len(q.Or) == 0
}

func matches(u *types.User, q Query) bool {
	for field, want := range q.Terms {
		if fieldValue(u, field) != want {
			return false
		}
	}
	if len(q.Or) > 0 {
		matched := false
		for _, sub := range q.Or {
			if matches(u, sub) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func fieldValue(u *types.User, field string) string {
	switch field {
	case "username":
		return u.Username
	case "email":
		if u.Email == nil {
			return ""
		}
		return *u.Email
	case "provider":
		return u.Provider
	}
	parts := strings.Split(field, ".")
	switch {
	case len(parts) == 2 && parts[0] == "providerData":
		s, _ := u.ProviderData[parts[1]].(string)
		return s
	case len(parts) == 3 && parts[0] == "additionalProvidersData":
		s, _ := u.AdditionalProvidersData[parts[1]][parts[2]].(string)
		return s
	}
	return ""
}

func cloneUser(u *types.User) *types.User {
	cp := *u
	if u.Email != nil {
		email := *u.Email
		cp.Email = &email
	}
	if u.ResetPasswordToken != nil {
		tok := *u.ResetPasswordToken
		cp.ResetPasswordToken = &tok
	}
	if u.ResetPasswordExpiresAt != nil {
		exp := *u.ResetPasswordExpiresAt
		cp.ResetPasswordExpiresAt = &exp
	}
	cp.Roles = append([]string(nil), u.Roles...)
	if u.ProviderData != nil {
		cp.ProviderData = make(map[string]any, len(u.ProviderData))
		for k, v := range u.ProviderData {
			cp.ProviderData[k] = v
		}
	}
	if u.AdditionalProvidersData != nil {
		cp.AdditionalProvidersData = make(map[string]map[string]any, len(u.AdditionalProvidersData))
		for p, data := range u.AdditionalProvidersData {
			inner := make(map[string]any, len(data))
			for k, v := range data {
				inner[k] = v
			}
			cp.AdditionalProvidersData[p] = inner
		}
	}
	return &cp
}
