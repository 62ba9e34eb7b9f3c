package admin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/auth-console/backend/internal/auth"
	"github.com/auth-console/backend/internal/repository"
	"github.com/auth-console/backend/internal/session"
)

// stubUserRepo serves a fixed user set; mutations update it in place
type stubUserRepo struct {
	users map[uuid.UUID]*repository.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[uuid.UUID]*repository.User)}
}

func (m *stubUserRepo) add(username, email, role string, overrides []string) *repository.User {
	u := &repository.User{
		ID:                  uuid.New(),
		Username:            username,
		Email:               email,
		Role:                role,
		PermissionOverrides: overrides,
		IsVerified:          true,
		IsActive:            true,
		CreatedAt:           time.Now().UTC(),
	}
	m.users[u.ID] = u
	return u
}

func (m *stubUserRepo) get(id uuid.UUID) (*repository.User, error) {
	if u, ok := m.users[id]; ok && !u.IsDeleted {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (m *stubUserRepo) Create(ctx context.Context, user *repository.User) error {
	user.ID = uuid.New()
	m.users[user.ID] = user
	return nil
}

func (m *stubUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	return m.get(id)
}

func (m *stubUserRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	for _, u := range m.users {
		if !u.IsDeleted && strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *stubUserRepo) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	for _, u := range m.users {
		if !u.IsDeleted && strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *stubUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	return err == nil, nil
}

func (m *stubUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := m.GetByUsername(ctx, username)
	return err == nil, nil
}

func (m *stubUserRepo) List(ctx context.Context) ([]*repository.User, error) {
	var out []*repository.User
	for _, u := range m.users {
		if !u.IsDeleted {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *stubUserRepo) CountUsers(ctx context.Context) (int, error) {
	users, _ := m.List(ctx)
	return len(users), nil
}

func (m *stubUserRepo) RecordFailedLogin(ctx context.Context, id uuid.UUID, attempts int) error {
	u, err := m.get(id)
	if err != nil {
		return err
	}
	u.FailedLoginAttempts = attempts
	return nil
}

func (m *stubUserRepo) Lock(ctx context.Context, id uuid.UUID, until time.Time, unlockToken string, tokenExpires time.Time) error {
	u, err := m.get(id)
	if err != nil {
		return err
	}
	u.IsLocked = true
	u.LockedUntil = &until
	return nil
}

func (m *stubUserRepo) Unlock(ctx context.Context, id uuid.UUID) error {
	u, err := m.get(id)
	if err != nil {
		return err
	}
	u.IsLocked = false
	u.LockedUntil = nil
	u.FailedLoginAttempts = 0
	return nil
}

func (m *stubUserRepo) SetLoginOTP(ctx context.Context, id uuid.UUID, otp string, expires time.Time) error {
	_, err := m.get(id)
	return err
}

func (m *stubUserRepo) CompleteLogin(ctx context.Context, id uuid.UUID, refreshTokenHash string, at time.Time) error {
	_, err := m.get(id)
	return err
}

func (m *stubUserRepo) MarkVerified(ctx context.Context, id uuid.UUID) error {
	u, err := m.get(id)
	if err != nil {
		return err
	}
	u.IsVerified = true
	return nil
}

func (m *stubUserRepo) SetRefreshToken(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := m.get(id)
	return err
}

func (m *stubUserRepo) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	_, err := m.get(id)
	return err
}

func (m *stubUserRepo) ChangePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := m.get(id)
	return err
}

func (m *stubUserRepo) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := m.get(id)
	return err
}

func (m *stubUserRepo) Deregister(ctx context.Context, id uuid.UUID, anonEmail, anonUsername string, at time.Time) error {
	u, err := m.get(id)
	if err != nil {
		return err
	}
	u.Email = anonEmail
	u.Username = anonUsername
	u.IsDeleted = true
	u.DeletedAt = &at
	return nil
}

func (m *stubUserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	u, err := m.get(id)
	if err != nil {
		return err
	}
	u.IsActive = active
	return nil
}

func (m *stubUserRepo) UpdateOverrides(ctx context.Context, id uuid.UUID, permissions []string) error {
	u, err := m.get(id)
	if err != nil {
		return err
	}
	u.PermissionOverrides = permissions
	return nil
}

func (m *stubUserRepo) ListWithOverrides(ctx context.Context) ([]*repository.User, error) {
	var out []*repository.User
	for _, u := range m.users {
		if !u.IsDeleted && len(u.PermissionOverrides) > 0 {
			out = append(out, u)
		}
	}
	return out, nil
}

// stubActivityLog records inserts and serves canned entries oldest first
type stubActivityLog struct {
	entries []repository.UserActivity
}

func (f *stubActivityLog) Insert(ctx context.Context, activity *repository.UserActivity) error {
	activity.ID = uuid.New()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	f.entries = append(f.entries, *activity)
	return nil
}

func (f *stubActivityLog) ListByActionsSince(ctx context.Context, actions []string, since time.Time) ([]repository.UserActivity, error) {
	wanted := make(map[string]bool, len(actions))
	for _, a := range actions {
		wanted[a] = true
	}
	var out []repository.UserActivity
	for _, e := range f.entries {
		if wanted[e.Action] && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *stubActivityLog) ListByUser(ctx context.Context, userID string, limit int) ([]repository.UserActivity, error) {
	var out []repository.UserActivity
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *stubActivityLog) Recent(ctx context.Context, limit int) ([]repository.UserActivity, error) {
	var out []repository.UserActivity
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func (f *stubActivityLog) CountByActionSince(ctx context.Context, action string, since time.Time) (int, error) {
	count := 0
	for _, e := range f.entries {
		if e.Action == action && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *stubActivityLog) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *stubActivityLog) byAction(action string) []repository.UserActivity {
	var out []repository.UserActivity
	for _, e := range f.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type adminFixture struct {
	service *AdminService
	users   *stubUserRepo
	log     *stubActivityLog
	tracker *session.Tracker
}

func newTestAdminService() *adminFixture {
	users := newStubUserRepo()
	log := &stubActivityLog{}
	tracker := session.NewTracker(nil)
	reconciler := session.NewReconciler(log, tracker, session.ReconcilerConfig{
		LookbackWindow:  2 * time.Hour,
		AbsoluteTimeout: 2 * time.Hour,
	}, nil)

	svc := NewAdminService(users, log, tracker, reconciler, AdminServiceConfig{
		AdminEmail: "root@example.com",
		AdminName:  "System Administrator",
	}, nil)

	return &adminFixture{service: svc, users: users, log: log, tracker: tracker}
}

func loginSuccessEntry(userID, sessionID string, at time.Time) repository.UserActivity {
	details, _ := json.Marshal(map[string]string{"sessionId": sessionID})
	return repository.UserActivity{
		UserID:    userID,
		Action:    repository.ActionLoginSuccess,
		Details:   details,
		CreatedAt: at,
	}
}

func TestListUsersPutsSystemAdminFirst(t *testing.T) {
	f := newTestAdminService()
	u := f.users.add("alice", "alice@example.com", repository.RoleUser, []string{"user_management"})

	views, err := f.service.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(views))
	}

	head := views[0]
	if !head.IsSystemAdmin || head.ID != auth.SystemAdminUserID {
		t.Errorf("first row should be the system administrator, got %+v", head)
	}
	if head.Email != "root@example.com" || head.Role != repository.RoleAdmin {
		t.Errorf("system administrator row wrong: %+v", head)
	}

	row := views[1]
	if row.ID != u.ID.String() {
		t.Errorf("expected stored user row, got %+v", row)
	}
	if row.EffectiveRole != repository.RoleModerator {
		t.Errorf("override should elevate the effective role, got %q", row.EffectiveRole)
	}
}

func TestListSessionsReconcilesFirst(t *testing.T) {
	f := newTestAdminService()
	now := time.Now().UTC()
	loginAt := now.Add(-10 * time.Minute)
	sid := session.SessionID("u1", loginAt)

	// A session only the log knows about, plus a tracker ghost
	f.log.entries = append(f.log.entries, loginSuccessEntry("u1", sid, loginAt))
	f.tracker.Add(session.Session{ID: "ghost", UserID: "u9", LoginAt: now})

	sessions, err := f.service.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].ID != sid {
		t.Errorf("expected session from the log, got %q", sessions[0].ID)
	}
}

func TestTerminateSession(t *testing.T) {
	f := newTestAdminService()
	now := time.Now().UTC()
	sid := session.SessionID("u1", now)
	f.tracker.Add(session.Session{ID: sid, UserID: "u1", LoginAt: now})

	wasTracked, err := f.service.TerminateSession(context.Background(), sid, "admin@example.com", "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !wasTracked {
		t.Error("tracked session should report was_tracked")
	}
	if _, ok := f.tracker.Get(sid); ok {
		t.Error("session still tracked after termination")
	}

	terms := f.log.byAction(repository.ActionAdminSessionTerminate)
	if len(terms) != 1 {
		t.Fatalf("expected 1 termination entry, got %d", len(terms))
	}
	var details map[string]any
	if err := json.Unmarshal(terms[0].Details, &details); err != nil {
		t.Fatalf("details not valid JSON: %v", err)
	}
	if details["sessionId"] != sid || details["terminatedBy"] != "admin@example.com" {
		t.Errorf("termination details wrong: %v", details)
	}

	// A session the tracker no longer holds may still be live in the
	// log, so the termination succeeds and records its tombstone.
	gone := session.SessionID("u2", now)
	wasTracked, err = f.service.TerminateSession(context.Background(), gone, "admin@example.com", "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("terminating an untracked session should succeed, got %v", err)
	}
	if wasTracked {
		t.Error("untracked session should report was_tracked false")
	}
	if got := len(f.log.byAction(repository.ActionAdminSessionTerminate)); got != 2 {
		t.Errorf("tombstone should be written even for untracked sessions, got %d entries", got)
	}

	if _, err := f.service.TerminateSession(context.Background(), "not-a-session-id", "admin@example.com", "10.0.0.1", "agent"); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("expected ErrInvalidSessionID, got %v", err)
	}
}

func TestSetUserActiveEndsSessionsOnDisable(t *testing.T) {
	f := newTestAdminService()
	u := f.users.add("bob", "bob@example.com", repository.RoleUser, nil)
	now := time.Now().UTC()
	f.tracker.Add(session.Session{ID: session.SessionID(u.ID.String(), now), UserID: u.ID.String(), LoginAt: now})

	if err := f.service.SetUserActive(context.Background(), u.ID.String(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.users.users[u.ID].IsActive {
		t.Error("account should be disabled")
	}
	if f.tracker.Count() != 0 {
		t.Error("disabling should end the user's sessions")
	}

	if err := f.service.SetUserActive(context.Background(), u.ID.String(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.users.users[u.ID].IsActive {
		t.Error("account should be re-enabled")
	}
}

func TestAdminOperationsRejectSentinel(t *testing.T) {
	f := newTestAdminService()
	ctx := context.Background()

	checks := map[string]error{
		"SetUserActive":  f.service.SetUserActive(ctx, auth.SystemAdminUserID, false),
		"VerifyUser":     f.service.VerifyUser(ctx, auth.SystemAdminUserID),
		"DeleteUser":     f.service.DeleteUser(ctx, auth.SystemAdminUserID, "admin@example.com", "", ""),
		"SetOverrides":   f.service.SetOverrides(ctx, auth.SystemAdminUserID, nil),
		"ClearOverrides": f.service.ClearOverrides(ctx, auth.SystemAdminUserID),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrProtectedAccount) {
			t.Errorf("%s: expected ErrProtectedAccount, got %v", name, err)
		}
	}

	if err := f.service.SetUserActive(ctx, "not-a-uuid", false); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound for a malformed ID, got %v", err)
	}
}

func TestDeleteUserWritesForceLogoutAndDeletion(t *testing.T) {
	f := newTestAdminService()
	u := f.users.add("carol", "carol@example.com", repository.RoleUser, nil)
	now := time.Now().UTC()
	f.tracker.Add(session.Session{ID: session.SessionID(u.ID.String(), now), UserID: u.ID.String(), LoginAt: now})

	if err := f.service.DeleteUser(context.Background(), u.ID.String(), "admin@example.com", "10.0.0.1", "agent"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := f.users.users[u.ID]
	if !raw.IsDeleted {
		t.Error("account should be soft-deleted")
	}
	if !strings.HasPrefix(raw.Email, "deregistered_") {
		t.Errorf("email not anonymized: %s", raw.Email)
	}
	if f.tracker.Count() != 0 {
		t.Error("sessions should be force-ended")
	}

	if got := len(f.log.byAction(repository.ActionForceLogout)); got != 1 {
		t.Errorf("expected 1 FORCE_LOGOUT entry, got %d", got)
	}
	deletions := f.log.byAction(repository.ActionAccountDeleted)
	if len(deletions) != 1 {
		t.Fatalf("expected 1 ACCOUNT_DELETED entry, got %d", len(deletions))
	}
	var details map[string]any
	if err := json.Unmarshal(deletions[0].Details, &details); err != nil {
		t.Fatalf("details not valid JSON: %v", err)
	}
	if details["deletedBy"] != "admin@example.com" {
		t.Errorf("deletion should name the administrator, got %v", details["deletedBy"])
	}
	if email, _ := details["originalEmail"].(string); !strings.Contains(email, "***") {
		t.Errorf("original email should be masked, got %q", email)
	}

	if err := f.service.DeleteUser(context.Background(), u.ID.String(), "admin@example.com", "", ""); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound for a deleted account, got %v", err)
	}
}

func TestOverrideLifecycle(t *testing.T) {
	f := newTestAdminService()
	u := f.users.add("dave", "dave@example.com", repository.RoleUser, nil)
	ctx := context.Background()

	perms, err := ParsePermissions([]string{"admin_access"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.service.SetOverrides(ctx, u.ID.String(), perms); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	views, err := f.service.ListOverrides(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 override row, got %d", len(views))
	}
	if views[0].EffectiveRole != repository.RoleAdmin {
		t.Errorf("expected elevated effective role, got %q", views[0].EffectiveRole)
	}

	if err := f.service.ClearOverrides(ctx, u.ID.String()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	views, _ = f.service.ListOverrides(ctx)
	if len(views) != 0 {
		t.Errorf("expected no override rows after clear, got %d", len(views))
	}
}

func TestGetStatsPairsLoginsWithLogouts(t *testing.T) {
	f := newTestAdminService()
	f.users.add("erin", "erin@example.com", repository.RoleUser, nil)
	now := time.Now().UTC()

	// One clean 30-minute session
	f.log.entries = append(f.log.entries,
		repository.UserActivity{UserID: "u1", Action: repository.ActionLoginSuccess, CreatedAt: now.Add(-100 * time.Minute)},
		repository.UserActivity{UserID: "u1", Action: repository.ActionLogout, CreatedAt: now.Add(-70 * time.Minute)},
		// A logout with no preceding login is ignored
		repository.UserActivity{UserID: "u2", Action: repository.ActionLogout, CreatedAt: now.Add(-60 * time.Minute)},
		// A pair spanning longer than a day is treated as a missing logout
		repository.UserActivity{UserID: "u3", Action: repository.ActionLoginSuccess, CreatedAt: now.Add(-30 * 24 * time.Hour).Add(time.Minute)},
		repository.UserActivity{UserID: "u3", Action: repository.ActionLogout, CreatedAt: now.Add(-25 * time.Hour)},
	)

	stats, err := f.service.GetStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalUsers != 1 {
		t.Errorf("expected 1 stored user, got %d", stats.TotalUsers)
	}
	want := (30 * time.Minute).Seconds()
	if stats.AvgSessionDuration != want {
		t.Errorf("expected average of %v seconds, got %v", want, stats.AvgSessionDuration)
	}
	if len(stats.RecentActivities) == 0 {
		t.Error("expected recent activity entries")
	}
}
