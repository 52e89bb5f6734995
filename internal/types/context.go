package types

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// UserIDKey carries the authenticated user's ID through the request context.
	UserIDKey contextKey = "userID"
	// UserRolesKey carries the authenticated user's roles through the request context.
	UserRolesKey contextKey = "userRoles"
)

// GetUserIDFromContext returns the authenticated user ID, if any.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok
}

// GetUserRolesFromContext returns the authenticated user's roles. A missing
// value means the request is anonymous.
func GetUserRolesFromContext(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(UserRolesKey).([]string)
	return roles, ok
}
