package admin

import (
	"errors"
	"fmt"

	"github.com/auth-console/backend/internal/repository"
)

// Permission is a capability that can be granted to a user beyond what
// their role implies
type Permission string

const (
	// PermissionAdminAccess grants the full administrator console
	PermissionAdminAccess Permission = "admin_access"
	// PermissionUserManagement grants moderator-level user administration
	PermissionUserManagement Permission = "user_management"
)

// ErrUnknownPermission reports a permission string outside the known set
var ErrUnknownPermission = errors.New("unknown permission")

// ParsePermission validates a raw permission string at the API boundary.
// Everything past the boundary works with the typed value.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case PermissionAdminAccess:
		return PermissionAdminAccess, nil
	case PermissionUserManagement:
		return PermissionUserManagement, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
}

// ParsePermissions validates a list of raw permission strings
func ParsePermissions(raw []string) ([]Permission, error) {
	perms := make([]Permission, 0, len(raw))
	seen := make(map[Permission]bool)
	for _, s := range raw {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			perms = append(perms, p)
		}
	}
	return perms, nil
}

// impliedRole maps each permission to the role it elevates a user to
var impliedRole = map[Permission]string{
	PermissionAdminAccess:    repository.RoleAdmin,
	PermissionUserManagement: repository.RoleModerator,
}

// EffectiveRole returns the role a user acts with once overrides are
// applied. Overrides only ever elevate; they never demote the stored role.
func EffectiveRole(storedRole string, overrides []string) string {
	rank := map[string]int{
		repository.RoleUser:      0,
		repository.RoleModerator: 1,
		repository.RoleAdmin:     2,
	}

	best := storedRole
	for _, o := range overrides {
		if role, ok := impliedRole[Permission(o)]; ok && rank[role] > rank[best] {
			best = role
		}
	}
	return best
}

// Strings converts typed permissions back to their storage form
func Strings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
