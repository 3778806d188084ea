package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/learnscaffold/internal/model"
)

// PostgresStore wraps all SQL used throughout the API and worker.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateTask inserts a pending task seeded by the intake estimate.
func (s *PostgresStore) CreateTask(ctx context.Context, t *model.Task) error {
	now := time.Now().UTC()
	t.Status = model.StatusPending
	t.CurrentStep = "Waiting to start"
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (
			task_id, filename, file_type, file_size_bytes, object_key,
			elements, detected_language, suggested_days, suggested_hours,
			suggested_total_hours, estimated_minutes, status, progress_percent,
			current_step, eta_minutes, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, t.TaskID, t.Filename, t.FileType, t.FileSizeBytes, t.ObjectKey,
		t.Elements, t.DetectedLanguage, t.SuggestedPlan.RecommendedDays,
		t.SuggestedPlan.RecommendedHoursPerDay, t.SuggestedPlan.TotalHours,
		t.EstimatedMinutes, t.Status, t.ProgressPercent, t.CurrentStep,
		t.ETAMinutes, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

const taskColumns = `
	task_id, filename, file_type, file_size_bytes, object_key,
	elements, detected_language, suggested_days, suggested_hours,
	suggested_total_hours, estimated_minutes, days, hours_per_day,
	status, progress_percent, current_step, eta_minutes,
	result_url, result_key, download_token, token_expires_at,
	error_message, created_at, updated_at`

// GetTask returns a task by id.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id=$1`, id)
	return scanTask(row)
}

// ClaimTask is the atomic pending -> processing transition. The guarded UPDATE
// is the serialization point: concurrent claims for one task race on the
// status predicate and exactly one can win.
func (s *PostgresStore) ClaimTask(ctx context.Context, id string, days int, hoursPerDay float64) (*model.Task, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status=$2, days=$3, hours_per_day=$4, current_step=$5, updated_at=$6
		WHERE task_id=$1 AND status=$7
	`, id, model.StatusProcessing, days, hoursPerDay, "Starting...", time.Now().UTC(), model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race or never claimable; disambiguate for the caller.
		if _, err := s.GetTask(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.GetTask(ctx, id)
}

// UpdateProgress persists a progress snapshot while the task is processing.
func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, progress int, step string, etaMinutes int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET progress_percent=$2, current_step=$3, eta_minutes=$4, updated_at=$5
		WHERE task_id=$1 AND status=$6
	`, id, progress, step, etaMinutes, time.Now().UTC(), model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted finalizes a successful run with the artifact reference and
// download credentials.
func (s *PostgresStore) MarkCompleted(ctx context.Context, id string, res Completion) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status=$2, progress_percent=100, current_step='Completed', eta_minutes=0,
			result_url=$3, result_key=$4, download_token=$5, token_expires_at=$6,
			updated_at=$7
		WHERE task_id=$1 AND status=$8
	`, id, model.StatusCompleted, res.ResultURL, res.ResultKey, res.DownloadToken,
		res.TokenExpiresAt, time.Now().UTC(), model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records the terminal failure message.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status=$2, error_message=$3, updated_at=$4
		WHERE task_id=$1 AND status=$5
	`, id, model.StatusFailed, message, time.Now().UTC(), model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertNotification keeps the single registration slot for a task. The email
// and created_at are replaced; sent/sent_at survive so a notification that
// already fired is not re-armed by a later registration.
func (s *PostgresStore) UpsertNotification(ctx context.Context, taskID, email string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (task_id, email, sent, created_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (task_id) DO UPDATE SET email=EXCLUDED.email, created_at=EXCLUDED.created_at
	`, taskID, email, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}
	return nil
}

// GetNotification returns the registration for a task, or ErrNotFound.
func (s *PostgresStore) GetNotification(ctx context.Context, taskID string) (*model.NotificationRegistration, error) {
	var (
		n      model.NotificationRegistration
		sentAt sql.NullTime
	)
	row := s.pool.QueryRow(ctx, `
		SELECT task_id, email, sent, created_at, sent_at FROM notifications WHERE task_id=$1
	`, taskID)
	if err := row.Scan(&n.TaskID, &n.Email, &n.Sent, &n.CreatedAt, &sentAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select notification: %w", err)
	}
	if sentAt.Valid {
		at := sentAt.Time
		n.SentAt = &at
	}
	return &n, nil
}

// MarkNotificationSent flips the sent flag once delivery has been triggered.
func (s *PostgresStore) MarkNotificationSent(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET sent=TRUE, sent_at=$2 WHERE task_id=$1
	`, taskID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		t            model.Task
		days         sql.NullInt64
		hoursPerDay  sql.NullFloat64
		resultURL    sql.NullString
		resultKey    sql.NullString
		token        sql.NullString
		tokenExpires sql.NullTime
		errorMsg     sql.NullString
	)
	if err := row.Scan(
		&t.TaskID, &t.Filename, &t.FileType, &t.FileSizeBytes, &t.ObjectKey,
		&t.Elements, &t.DetectedLanguage, &t.SuggestedPlan.RecommendedDays,
		&t.SuggestedPlan.RecommendedHoursPerDay, &t.SuggestedPlan.TotalHours,
		&t.EstimatedMinutes, &days, &hoursPerDay,
		&t.Status, &t.ProgressPercent, &t.CurrentStep, &t.ETAMinutes,
		&resultURL, &resultKey, &token, &tokenExpires,
		&errorMsg, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select task: %w", err)
	}
	if days.Valid {
		t.Days = int(days.Int64)
	}
	if hoursPerDay.Valid {
		t.HoursPerDay = hoursPerDay.Float64
	}
	if resultURL.Valid {
		t.ResultURL = resultURL.String
	}
	if resultKey.Valid {
		t.ResultKey = resultKey.String
	}
	if token.Valid {
		t.DownloadToken = token.String
	}
	if tokenExpires.Valid {
		t.TokenExpiresAt = tokenExpires.Time
	}
	if errorMsg.Valid {
		t.ErrorMessage = errorMsg.String
	}
	return &t, nil
}
