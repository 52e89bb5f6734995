package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/FACorreiaa/go-user-identity/internal/api/user"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// maxUsernameProbes bounds the resolver's store round-trips so resolution
// depth never tracks store growth.
const maxUsernameProbes = 3000

// Valid usernames: 3-34 chars of [a-z0-9._-], at least one alphanumeric,
// no consecutive separators, no leading or trailing dot.
var (
	usernameCharset      = regexp.MustCompile(`^[a-z0-9._-]+$`)
	consecutiveSeparator = regexp.MustCompile(`[._-]{2}`)
)

// ValidateUsername checks the normalized username against the pattern and
// the reserved list. Reserved names fail validation; they are never silently
// renamed.
func ValidateUsername(username string, reserved []string) error {
	name := strings.ToLower(strings.TrimSpace(username))
	if len(name) < 3 || len(name) > 34 {
		return fmt.Errorf("%w: username must be between 3 and 34 characters", types.ErrValidation)
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("%w: username may not begin or end with a dot", types.ErrValidation)
	}
	if !usernameCharset.MatchString(name) || !strings.ContainsAny(name, "abcdefghijklmnopqrstuvwxyz0123456789") {
		return fmt.Errorf("%w: username may only contain letters, digits, dots, dashes and underscores", types.ErrValidation)
	}
	if consecutiveSeparator.MatchString(name) {
		return fmt.Errorf("%w: username may not contain consecutive separators", types.ErrValidation)
	}
	for _, r := range reserved {
		if name == r {
			return fmt.Errorf("%w: username %q is not available", types.ErrValidation, name)
		}
	}
	return nil
}

// ResolveUniqueUsername lowercases the candidate and probes the store,
// appending an increasing numeric suffix until an unused name is found.
// Probe-then-insert can race with concurrent registrations; the store's
// unique constraint is the final authority and callers retry resolution on
// a conflicting insert.
func ResolveUniqueUsername(ctx context.Context, repo user.UserRepo, candidate string, reserved []string) (string, error) {
	base := normalizeCandidate(candidate)

	for suffix := 0; suffix <= maxUsernameProbes; suffix++ {
		name := base
		if suffix > 0 {
			name = base + strconv.Itoa(suffix)
		}
		if isReserved(name, reserved) {
			continue
		}

		_, err := repo.FindOne(ctx, user.Eq("username", name))
		switch {
		case errors.Is(err, types.ErrNotFound):
			return name, nil
		case err != nil:
			return "", fmt.Errorf("resolve username: %w", err)
		}
	}
	return "", types.ErrResolutionExhausted
}

// normalizeCandidate reduces an arbitrary seed (profile username, email
// local part) to the allowed charset.
func normalizeCandidate(candidate string) string {
	lower := strings.ToLower(strings.TrimSpace(candidate))
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "._-")
	for strings.Contains(out, "..") || strings.Contains(out, "__") || strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "..", ".")
		out = strings.ReplaceAll(out, "__", "_")
		out = strings.ReplaceAll(out, "--", "-")
	}
	if len(out) < 3 {
		out = "user"
	}
	if len(out) > 30 {
		out = out[:30] // leave room for a numeric suffix
	}
	return out
}

func isReserved(name string, reserved []string) bool {
	for _, r := range reserved {
		if name == r {
			return true
		}
	}
	return false
}
