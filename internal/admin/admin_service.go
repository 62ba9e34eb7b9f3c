package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/auth-console/backend/internal/auth"
	"github.com/auth-console/backend/internal/repository"
	"github.com/auth-console/backend/internal/session"
)

// Admin service errors
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrProtectedAccount = errors.New("the system administrator account cannot be modified")
)

const (
	// statsDurationWindow is how far back login/logout pairs are sampled
	// for the average session duration.
	statsDurationWindow = 30 * 24 * time.Hour
	// maxPairedSession discards pairs longer than a day; those are almost
	// always a missing logout entry, not a real session.
	maxPairedSession = 24 * time.Hour
	// recentActivityCount is how many entries the stats view shows
	recentActivityCount = 10
)

// AdminServiceConfig holds the identity shown for the file-based
// administrator in user listings
type AdminServiceConfig struct {
	AdminEmail string
	AdminName  string
}

// AdminService implements the administrator console operations
type AdminService struct {
	userRepo     repository.UserRepository
	activityRepo repository.ActivityRepositoryInterface
	tracker      *session.Tracker
	reconciler   *session.Reconciler
	cfg          AdminServiceConfig
	logger       *slog.Logger
}

// NewAdminService creates a new AdminService instance
func NewAdminService(
	userRepo repository.UserRepository,
	activityRepo repository.ActivityRepositoryInterface,
	tracker *session.Tracker,
	reconciler *session.Reconciler,
	cfg AdminServiceConfig,
	logger *slog.Logger,
) *AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{
		userRepo:     userRepo,
		activityRepo: activityRepo,
		tracker:      tracker,
		reconciler:   reconciler,
		cfg:          cfg,
		logger:       logger,
	}
}

// UserView is one row in the administrator's user listing
type UserView struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	EffectiveRole string     `json:"effective_role"`
	Overrides     []string   `json:"overrides,omitempty"`
	IsVerified    bool       `json:"is_verified"`
	IsActive      bool       `json:"is_active"`
	IsLocked      bool       `json:"is_locked"`
	IsSystemAdmin bool       `json:"is_system_admin,omitempty"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// ListUsers returns all accounts, with the file-based administrator as a
// synthetic first row
func (s *AdminService) ListUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]UserView, 0, len(users)+1)
	views = append(views, UserView{
		ID:            auth.SystemAdminUserID,
		Username:      s.cfg.AdminName,
		Email:         s.cfg.AdminEmail,
		Role:          repository.RoleAdmin,
		EffectiveRole: repository.RoleAdmin,
		IsVerified:    true,
		IsActive:      true,
		IsSystemAdmin: true,
	})

	for _, u := range users {
		created := u.CreatedAt
		views = append(views, UserView{
			ID:            u.ID.String(),
			Username:      u.Username,
			Email:         u.Email,
			Role:          u.Role,
			EffectiveRole: EffectiveRole(u.Role, u.PermissionOverrides),
			Overrides:     u.PermissionOverrides,
			IsVerified:    u.IsVerified,
			IsActive:      u.IsActive,
			IsLocked:      u.IsLocked,
			LastLogin:     u.LastLogin,
			CreatedAt:     &created,
		})
	}

	return views, nil
}

// ListSessions returns the live sessions. The view is always rebuilt from
// the activity log first, so a fresh process or a drifted tracker still
// answers correctly.
func (s *AdminService) ListSessions(ctx context.Context) ([]session.Session, error) {
	if _, err := s.reconciler.Reconcile(ctx, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.tracker.List(), nil
}

// TerminateSession force-ends one session and records the termination so
// reconciliation never resurrects it. The returned bool reports whether
// the tracker still held the session; a session known only to the log is
// terminated all the same, so that is not an error.
func (s *AdminService) TerminateSession(ctx context.Context, sessionID, terminatedBy, ipAddress, userAgent string) (bool, error) {
	targetUserID, _, err := session.ParseSessionID(sessionID)
	if err != nil {
		return false, ErrInvalidSessionID
	}

	removed := s.tracker.Remove(sessionID)

	s.logActivity(ctx, targetUserID, repository.ActionAdminSessionTerminate, ipAddress, userAgent, map[string]any{
		"targetUserId": targetUserID,
		"sessionId":    sessionID,
		"terminatedBy": terminatedBy,
	})

	s.logger.Info("Session terminated by administrator",
		"session_id", sessionID,
		"target_user_id", targetUserID,
		"terminated_by", terminatedBy,
		"was_tracked", removed,
	)

	return removed, nil
}

// SetUserActive enables or disables an account
func (s *AdminService) SetUserActive(ctx context.Context, userID string, active bool) error {
	id, err := s.storedUserID(userID)
	if err != nil {
		return err
	}

	if err := s.userRepo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if !active {
		s.tracker.RemoveByUser(userID)
	}
	return nil
}

// VerifyUser marks an account's email as confirmed without a token
func (s *AdminService) VerifyUser(ctx context.Context, userID string) error {
	id, err := s.storedUserID(userID)
	if err != nil {
		return err
	}

	if err := s.userRepo.MarkVerified(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// DeleteUser soft-deletes an account on behalf of an administrator and
// force-ends its sessions
func (s *AdminService) DeleteUser(ctx context.Context, userID, deletedBy, ipAddress, userAgent string) error {
	id, err := s.storedUserID(userID)
	if err != nil {
		return err
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	now := time.Now().UTC()
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	anonEmail := "deregistered_" + millis + "@deleted.com"
	anonUsername := "deleted_user_" + millis

	if err := s.userRepo.Deregister(ctx, id, anonEmail, anonUsername, now); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	s.tracker.RemoveByUser(userID)
	s.logActivity(ctx, userID, repository.ActionForceLogout, ipAddress, userAgent, map[string]any{
		"reason": "account_deleted",
	})
	s.logActivity(ctx, userID, repository.ActionAccountDeleted, ipAddress, userAgent, map[string]any{
		"deletedBy":     deletedBy,
		"originalEmail": auth.MaskEmail(user.Email),
	})

	return nil
}

// SetOverrides replaces a user's permission override set
func (s *AdminService) SetOverrides(ctx context.Context, userID string, perms []Permission) error {
	id, err := s.storedUserID(userID)
	if err != nil {
		return err
	}

	if err := s.userRepo.UpdateOverrides(ctx, id, Strings(perms)); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// ClearOverrides removes all permission overrides from a user
func (s *AdminService) ClearOverrides(ctx context.Context, userID string) error {
	return s.SetOverrides(ctx, userID, nil)
}

// OverrideView is one row in the override listing
type OverrideView struct {
	UserID        string   `json:"user_id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	Role          string   `json:"role"`
	EffectiveRole string   `json:"effective_role"`
	Overrides     []string `json:"overrides"`
}

// ListOverrides returns every user carrying at least one override
func (s *AdminService) ListOverrides(ctx context.Context) ([]OverrideView, error) {
	users, err := s.userRepo.ListWithOverrides(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]OverrideView, 0, len(users))
	for _, u := range users {
		views = append(views, OverrideView{
			UserID:        u.ID.String(),
			Username:      u.Username,
			Email:         u.Email,
			Role:          u.Role,
			EffectiveRole: EffectiveRole(u.Role, u.PermissionOverrides),
			Overrides:     u.PermissionOverrides,
		})
	}
	return views, nil
}

// Stats is the administrator dashboard summary
type Stats struct {
	TotalUsers         int                       `json:"total_users"`
	ActiveSessions     int                       `json:"active_sessions"`
	AvgSessionDuration float64                   `json:"avg_session_duration_seconds"`
	RecentActivities   []repository.UserActivity `json:"recent_activities"`
}

// GetStats assembles the dashboard summary. Active sessions come from a
// fresh reconciliation; the average duration is computed by pairing each
// login entry with the user's next logout.
func (s *AdminService) GetStats(ctx context.Context) (*Stats, error) {
	now := time.Now().UTC()

	if _, err := s.reconciler.Reconcile(ctx, now); err != nil {
		return nil, err
	}

	totalUsers, err := s.userRepo.CountUsers(ctx)
	if err != nil {
		return nil, err
	}

	avg, err := s.averageSessionDuration(ctx, now)
	if err != nil {
		return nil, err
	}

	recent, err := s.activityRepo.Recent(ctx, recentActivityCount)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalUsers:         totalUsers,
		ActiveSessions:     s.tracker.Count(),
		AvgSessionDuration: avg,
		RecentActivities:   recent,
	}, nil
}

func (s *AdminService) averageSessionDuration(ctx context.Context, now time.Time) (float64, error) {
	entries, err := s.activityRepo.ListByActionsSince(ctx,
		[]string{repository.ActionLoginSuccess, repository.ActionLogout},
		now.Add(-statsDurationWindow))
	if err != nil {
		return 0, err
	}

	// Entries are ascending; hold the open login per user and close it on
	// the next logout.
	openLogin := make(map[string]time.Time)
	var total time.Duration
	var count int

	for _, e := range entries {
		switch e.Action {
		case repository.ActionLoginSuccess:
			openLogin[e.UserID] = e.CreatedAt
		case repository.ActionLogout:
			loginAt, ok := openLogin[e.UserID]
			if !ok {
				continue
			}
			delete(openLogin, e.UserID)

			d := e.CreatedAt.Sub(loginAt)
			if d <= 0 || d > maxPairedSession {
				continue
			}
			total += d
			count++
		}
	}

	if count == 0 {
		return 0, nil
	}
	return total.Seconds() / float64(count), nil
}

// storedUserID rejects the sentinel and parses the ID for store lookups
func (s *AdminService) storedUserID(userID string) (uuid.UUID, error) {
	if userID == auth.SystemAdminUserID {
		return uuid.Nil, ErrProtectedAccount
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, ErrUserNotFound
	}
	return id, nil
}

// logActivity appends one log entry, best effort
func (s *AdminService) logActivity(ctx context.Context, userID, action, ipAddress, userAgent string, details map[string]any) {
	if userID == auth.SystemAdminUserID {
		return
	}

	entry := &repository.UserActivity{
		UserID: userID,
		Action: action,
	}
	if ipAddress != "" {
		entry.IPAddress = &ipAddress
	}
	if userAgent != "" {
		entry.UserAgent = &userAgent
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = data
		}
	}

	if err := s.activityRepo.Insert(ctx, entry); err != nil {
		s.logger.Warn("Failed to record activity", "user_id", userID, "action", action, "error", err)
	}
}
