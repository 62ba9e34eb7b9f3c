package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Activity repository errors
var (
	ErrActivityNotFound = errors.New("activity not found")
)

// ActivityRepositoryInterface defines the interface for the durable
// activity log. The log is append-only; entries age out via PurgeOlderThan.
type ActivityRepositoryInterface interface {
	Insert(ctx context.Context, activity *UserActivity) error
	ListByActionsSince(ctx context.Context, actions []string, since time.Time) ([]UserActivity, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]UserActivity, error)
	Recent(ctx context.Context, limit int) ([]UserActivity, error)
	CountByActionSince(ctx context.Context, action string, since time.Time) (int, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ActivityRepo implements ActivityRepositoryInterface using PostgreSQL
type ActivityRepo struct {
	db *sqlx.DB
}

// NewActivityRepo creates a new ActivityRepo instance
func NewActivityRepo(db *sqlx.DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// Insert appends one entry to the activity log
func (r *ActivityRepo) Insert(ctx context.Context, activity *UserActivity) error {
	query := `
		INSERT INTO user_activities (user_id, action, ip_address, user_agent, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	details := activity.Details
	if len(details) == 0 {
		details = []byte(`{}`)
	}

	return r.db.QueryRowContext(ctx, query,
		activity.UserID,
		activity.Action,
		activity.IPAddress,
		activity.UserAgent,
		details,
	).Scan(&activity.ID, &activity.CreatedAt)
}

// ListByActionsSince returns entries with any of the given actions recorded
// at or after the cutoff, oldest first. Reconciliation depends on the
// ascending order to replay events in sequence.
func (r *ActivityRepo) ListByActionsSince(ctx context.Context, actions []string, since time.Time) ([]UserActivity, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(actions))
	args := make([]interface{}, 0, len(actions)+1)
	args = append(args, since.UTC())
	for i, action := range actions {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, action)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, action, ip_address, user_agent, details, created_at
		FROM user_activities
		WHERE created_at >= $1 AND action IN (%s)
		ORDER BY created_at ASC
	`, strings.Join(placeholders, ", "))

	var activities []UserActivity
	if err := r.db.SelectContext(ctx, &activities, query, args...); err != nil {
		return nil, err
	}

	return activities, nil
}

// ListByUser returns the most recent entries for one user
func (r *ActivityRepo) ListByUser(ctx context.Context, userID string, limit int) ([]UserActivity, error) {
	if limit < 1 {
		limit = 20
	}

	query := `
		SELECT id, user_id, action, ip_address, user_agent, details, created_at
		FROM user_activities
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var activities []UserActivity
	if err := r.db.SelectContext(ctx, &activities, query, userID, limit); err != nil {
		return nil, err
	}

	return activities, nil
}

// Recent returns the newest entries across all users
func (r *ActivityRepo) Recent(ctx context.Context, limit int) ([]UserActivity, error) {
	if limit < 1 {
		limit = 10
	}

	query := `
		SELECT id, user_id, action, ip_address, user_agent, details, created_at
		FROM user_activities
		ORDER BY created_at DESC
		LIMIT $1
	`

	var activities []UserActivity
	if err := r.db.SelectContext(ctx, &activities, query, limit); err != nil {
		return nil, err
	}

	return activities, nil
}

// CountByActionSince counts entries of one action since the cutoff
func (r *ActivityRepo) CountByActionSince(ctx context.Context, action string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM user_activities
		WHERE action = $1 AND created_at >= $2
	`

	var count int
	err := r.db.GetContext(ctx, &count, query, action, since.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}

	return count, nil
}

// PurgeOlderThan deletes entries older than the retention cutoff and
// returns how many were removed
func (r *ActivityRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM user_activities WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
