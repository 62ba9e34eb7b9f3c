package admin

import (
	"errors"
	"testing"

	"github.com/auth-console/backend/internal/repository"
)

func TestParsePermission(t *testing.T) {
	cases := []struct {
		input string
		want  Permission
		err   bool
	}{
		{"admin_access", PermissionAdminAccess, false},
		{"user_management", PermissionUserManagement, false},
		{"", "", true},
		{"ADMIN_ACCESS", "", true},
		{"root", "", true},
		{"admin_access ", "", true},
	}

	for _, tc := range cases {
		got, err := ParsePermission(tc.input)
		if tc.err {
			if !errors.Is(err, ErrUnknownPermission) {
				t.Errorf("ParsePermission(%q): expected ErrUnknownPermission, got %v", tc.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePermission(%q): unexpected error %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePermission(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParsePermissionsDedupes(t *testing.T) {
	perms, err := ParsePermissions([]string{"admin_access", "user_management", "admin_access"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 deduped permissions, got %d", len(perms))
	}
	if perms[0] != PermissionAdminAccess || perms[1] != PermissionUserManagement {
		t.Errorf("order not preserved: %v", perms)
	}
}

func TestParsePermissionsRejectsUnknown(t *testing.T) {
	if _, err := ParsePermissions([]string{"admin_access", "superuser"}); !errors.Is(err, ErrUnknownPermission) {
		t.Errorf("expected ErrUnknownPermission, got %v", err)
	}
}

func TestEffectiveRoleOnlyElevates(t *testing.T) {
	cases := []struct {
		name      string
		stored    string
		overrides []string
		want      string
	}{
		{"no overrides", repository.RoleUser, nil, repository.RoleUser},
		{"user elevated to moderator", repository.RoleUser, []string{"user_management"}, repository.RoleModerator},
		{"user elevated to admin", repository.RoleUser, []string{"admin_access"}, repository.RoleAdmin},
		{"highest override wins", repository.RoleUser, []string{"user_management", "admin_access"}, repository.RoleAdmin},
		{"admin never demoted", repository.RoleAdmin, []string{"user_management"}, repository.RoleAdmin},
		{"moderator kept", repository.RoleModerator, []string{"user_management"}, repository.RoleModerator},
		{"unknown override ignored", repository.RoleUser, []string{"bogus"}, repository.RoleUser},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EffectiveRole(tc.stored, tc.overrides); got != tc.want {
				t.Errorf("EffectiveRole(%q, %v) = %q, want %q", tc.stored, tc.overrides, got, tc.want)
			}
		})
	}
}

func TestStringsRoundTrip(t *testing.T) {
	raw := []string{"admin_access", "user_management"}
	perms, err := ParsePermissions(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := Strings(perms)
	if len(got) != len(raw) {
		t.Fatalf("length mismatch: %v", got)
	}
	for i := range raw {
		if got[i] != raw[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], raw[i])
		}
	}
}
