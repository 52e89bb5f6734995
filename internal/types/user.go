package types

import (
	"time"

	"github.com/google/uuid"
)

// User is the durable identity record. Reset-token fields and
// AdditionalProvidersData are part of the persisted format and must stay
// readable by any store implementation.
type User struct {
	ID              uuid.UUID `json:"id"`
	Username        string    `json:"username"`
	Email           *string   `json:"email,omitempty"` // sparse-unique: many users may have none
	FullName        string    `json:"full_name,omitempty"`
	DisplayName     string    `json:"display_name,omitempty"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`

	PasswordHash string `json:"-"`
	PasswordSalt string `json:"-"`

	// Provider is the primary identity source: "local" or an OAuth provider
	// name. ProviderData is the opaque payload from that provider.
	Provider     string         `json:"provider"`
	ProviderData map[string]any `json:"-"`

	// AdditionalProvidersData maps provider name -> opaque payload and
	// accumulates as the user links more identities.
	AdditionalProvidersData map[string]map[string]any `json:"-"`

	Roles []string `json:"roles"`

	ResetPasswordToken     *string    `json:"-"`
	ResetPasswordExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocalProvider marks accounts whose credentials this system manages.
const LocalProvider = "local"

// DefaultRoles is assigned to every new account.
func DefaultRoles() []string { return []string{"user"} }

// IsLocal reports whether the account authenticates with a local
// username/password pair.
func (u *User) IsLocal() bool { return u.Provider == LocalProvider }

// HasRole reports whether the user carries the given role tag.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Sanitized returns a copy safe for API responses: credential material and
// reset-token state stripped, provider payloads withheld.
func (u *User) Sanitized() User {
	out := *u
	out.PasswordHash = ""
	out.PasswordSalt = ""
	out.ProviderData = nil
	out.AdditionalProvidersData = nil
	out.ResetPasswordToken = nil
	out.ResetPasswordExpiresAt = nil
	return out
}

// LinkedProviders lists the additional provider names merged into this
// account, for profile responses.
func (u *User) LinkedProviders() []string {
	if len(u.AdditionalProvidersData) == 0 {
		return nil
	}
	names := make([]string, 0, len(u.AdditionalProvidersData))
	for name := range u.AdditionalProvidersData {
		names = append(names, name)
	}
	return names
}

// ProviderProfile is the post-callback profile handed to the identity
// linking service. IdentifierField names the key inside ProviderData that
// uniquely identifies the account at the provider (e.g. "id").
type ProviderProfile struct {
	Provider        string
	IdentifierField string
	ProviderData    map[string]any
	Username        string
	Email           string
	FirstName       string
	LastName        string
	DisplayName     string
	ProfileImageURL string
}

// Identifier returns the provider-scoped unique identifier value, or ""
// when the payload is missing it.
func (p ProviderProfile) Identifier() string {
	v, ok := p.ProviderData[p.IdentifierField]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// UpdateProfileParams defines the fields a user may change on their own
// profile. Pointers distinguish "not provided" from empty.
type UpdateProfileParams struct {
	FullName        *string `json:"full_name,omitempty"`
	DisplayName     *string `json:"display_name,omitempty"`
	Email           *string `json:"email,omitempty"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
}

// AdminUpdateParams defines the fields an administrator may change on any
// account. A nil Roles leaves the role set untouched; a provided one
// replaces it entirely.
type AdminUpdateParams struct {
	FullName *string  `json:"full_name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}
