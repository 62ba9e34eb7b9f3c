package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "user_id"
	// EmailKey is the context key for user email
	EmailKey ContextKey = "email"
	// RoleKey is the context key for the authenticated user's role
	RoleKey ContextKey = "role"
	// SystemAdminKey marks requests authenticated as the file-based administrator
	SystemAdminKey ContextKey = "is_system_admin"
)

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// ExtractEmail extracts the email from the request context
func ExtractEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailKey).(string)
	return email, ok
}

// ExtractRole extracts the role from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

// IsSystemAdmin reports whether the request was authenticated with the
// file-based administrator identity rather than a stored account.
func IsSystemAdmin(ctx context.Context) bool {
	isAdmin, ok := ctx.Value(SystemAdminKey).(bool)
	return ok && isAdmin
}
