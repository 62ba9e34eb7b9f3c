package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/auth-console/backend/internal/metrics"
	"github.com/auth-console/backend/internal/repository"
)

// loginActions start a session. Logouts and force-logouts end every
// session the user had open at that point; an admin termination ends only
// the session its details name.
var (
	loginActions = []string{
		repository.ActionLoginSuccess,
		repository.ActionOTPVerified,
		repository.ActionAdminLoginSuccess,
		repository.ActionFederatedLogin,
	}
	logoutActions = []string{
		repository.ActionLogout,
		repository.ActionForceLogout,
		repository.ActionAdminSessionTerminate,
	}
)

// ReconcilerConfig holds reconciliation tuning
type ReconcilerConfig struct {
	LookbackWindow  time.Duration
	AbsoluteTimeout time.Duration
}

// Reconciler rebuilds the in-memory session view from the activity log.
// The log is authoritative: after a restart or drift, one Reconcile call
// restores exactly the sessions the log says are still open.
type Reconciler struct {
	activities repository.ActivityRepositoryInterface
	tracker    *Tracker
	cfg        ReconcilerConfig
	logger     *slog.Logger
}

// NewReconciler creates a new Reconciler instance
func NewReconciler(
	activities repository.ActivityRepositoryInterface,
	tracker *Tracker,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		activities: activities,
		tracker:    tracker,
		cfg:        cfg,
		logger:     logger,
	}
}

// ReconcileResult summarizes one reconciliation pass
type ReconcileResult struct {
	EntriesScanned  int `json:"entries_scanned"`
	SessionsRebuilt int `json:"sessions_rebuilt"`
}

// entryDetails is the subset of log entry details reconciliation reads
type entryDetails struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

// Reconcile replays login and logout entries from the lookback window and
// replaces the tracker contents with the surviving sessions
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) (*ReconcileResult, error) {
	timer := time.Now()
	defer func() {
		metrics.ReconciliationsTotal.Inc()
		metrics.ReconciliationDuration.Observe(time.Since(timer).Seconds())
	}()

	since := now.Add(-r.cfg.LookbackWindow)

	actions := make([]string, 0, len(loginActions)+len(logoutActions))
	actions = append(actions, loginActions...)
	actions = append(actions, logoutActions...)

	entries, err := r.activities.ListByActionsSince(ctx, actions, since)
	if err != nil {
		return nil, err
	}

	terminated := make(map[string]bool)
	lastLogout := make(map[string]time.Time)
	for _, e := range entries {
		if !isLogoutAction(e.Action) {
			continue
		}
		var d entryDetails
		if len(e.Details) > 0 {
			if err := json.Unmarshal(e.Details, &d); err == nil && d.SessionID != "" {
				terminated[d.SessionID] = true
			}
		}
		// Admin terminations name a single session in their details;
		// they never end the user's other sessions.
		if e.Action == repository.ActionAdminSessionTerminate {
			continue
		}
		if e.CreatedAt.After(lastLogout[e.UserID]) {
			lastLogout[e.UserID] = e.CreatedAt
		}
	}

	// Entries arrive oldest first, so a plain overwrite keeps the latest
	// surviving login per user.
	latest := make(map[string]Session)
	for _, e := range entries {
		if !isLoginAction(e.Action) {
			continue
		}

		var d entryDetails
		if len(e.Details) > 0 {
			_ = json.Unmarshal(e.Details, &d)
		}

		sid := d.SessionID
		loginAt := e.CreatedAt
		if sid == "" {
			sid = SessionID(e.UserID, loginAt)
		} else if _, parsedAt, err := ParseSessionID(sid); err == nil {
			loginAt = parsedAt
		}

		if terminated[sid] {
			continue
		}
		if logoutAt, ok := lastLogout[e.UserID]; ok && !logoutAt.Before(e.CreatedAt) {
			continue
		}
		if now.Sub(loginAt) > r.cfg.AbsoluteTimeout {
			continue
		}

		s := Session{
			ID:       sid,
			UserID:   e.UserID,
			Email:    d.Email,
			Username: d.Username,
			Role:     d.Role,
			LoginAt:  loginAt,
			LastSeen: e.CreatedAt,
		}
		if e.IPAddress != nil {
			s.IPAddress = *e.IPAddress
		}
		if e.UserAgent != nil {
			s.UserAgent = *e.UserAgent
		}
		latest[e.UserID] = s
	}

	sessions := make([]Session, 0, len(latest))
	for _, s := range latest {
		sessions = append(sessions, s)
	}
	r.tracker.ReplaceAll(sessions)

	r.logger.Info("Session state reconciled",
		"entries_scanned", len(entries),
		"sessions_rebuilt", len(sessions),
	)

	return &ReconcileResult{
		EntriesScanned:  len(entries),
		SessionsRebuilt: len(sessions),
	}, nil
}

func isLoginAction(action string) bool {
	for _, a := range loginActions {
		if a == action {
			return true
		}
	}
	return false
}

func isLogoutAction(action string) bool {
	for _, a := range logoutActions {
		if a == action {
			return true
		}
	}
	return false
}
