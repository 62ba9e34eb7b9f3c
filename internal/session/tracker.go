package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auth-console/backend/internal/metrics"
)

// Session is one live login tracked in memory
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username,omitempty"`
	Role      string    `json:"role,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	LoginAt   time.Time `json:"login_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Tracker holds the in-memory view of live sessions. It is a cache over
// the activity log, not the source of truth; reconciliation may replace
// its contents wholesale at any time.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewTracker creates a new empty Tracker instance
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Add registers a session, replacing any existing entry with the same ID
func (t *Tracker) Add(s Session) {
	if s.LastSeen.IsZero() {
		s.LastSeen = s.LoginAt
	}

	t.mu.Lock()
	t.sessions[s.ID] = &s
	metrics.SessionsActive.Set(float64(len(t.sessions)))
	t.mu.Unlock()

	t.logger.Debug("Session registered", "session_id", s.ID, "user_id", s.UserID)
}

// Get returns a session by ID
func (t *Tracker) Get(id string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Remove drops a session by ID and reports whether it existed
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[id]; !ok {
		return false
	}
	delete(t.sessions, id)
	metrics.SessionsActive.Set(float64(len(t.sessions)))
	return true
}

// RemoveByUser drops all sessions for a user and returns how many were removed
func (t *Tracker) RemoveByUser(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, s := range t.sessions {
		if s.UserID == userID {
			delete(t.sessions, id)
			removed++
		}
	}
	metrics.SessionsActive.Set(float64(len(t.sessions)))
	return removed
}

// FindByUser returns all sessions belonging to a user
func (t *Tracker) FindByUser(userID string) []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var found []Session
	for _, s := range t.sessions {
		if s.UserID == userID {
			found = append(found, *s)
		}
	}
	return found
}

// Touch updates a session's last-seen time, reporting whether it exists
func (t *Tracker) Touch(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return false
	}
	if at.After(s.LastSeen) {
		s.LastSeen = at
	}
	return true
}

// List returns a snapshot of all tracked sessions
func (t *Tracker) List() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}

// Count returns the number of tracked sessions
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Clear drops all sessions
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.sessions = make(map[string]*Session)
	metrics.SessionsActive.Set(0)
	t.mu.Unlock()
}

// ReplaceAll swaps the full session set in one step. Reconciliation uses
// this so readers never observe a half-rebuilt view.
func (t *Tracker) ReplaceAll(sessions []Session) {
	next := make(map[string]*Session, len(sessions))
	for i := range sessions {
		s := sessions[i]
		if s.LastSeen.IsZero() {
			s.LastSeen = s.LoginAt
		}
		next[s.ID] = &s
	}

	t.mu.Lock()
	t.sessions = next
	metrics.SessionsActive.Set(float64(len(next)))
	t.mu.Unlock()
}

// SweepExpired removes sessions older than the absolute timeout or idle
// past the idle horizon, returning the removed sessions
func (t *Tracker) SweepExpired(now time.Time, absoluteTimeout, idleHorizon time.Duration) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Session
	for id, s := range t.sessions {
		if now.Sub(s.LoginAt) > absoluteTimeout || now.Sub(s.LastSeen) > idleHorizon {
			removed = append(removed, *s)
			delete(t.sessions, id)
		}
	}

	if len(removed) > 0 {
		metrics.SessionsActive.Set(float64(len(t.sessions)))
		t.logger.Info("Swept expired sessions", "removed", len(removed), "remaining", len(t.sessions))
	}
	return removed
}

// StartSweeper runs SweepExpired on a ticker until the context is cancelled
func (t *Tracker) StartSweeper(ctx context.Context, interval, absoluteTimeout, idleHorizon time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.SweepExpired(now, absoluteTimeout, idleHorizon)
			}
		}
	}()
}
