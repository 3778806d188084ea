package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tasks and notifications tables if needed. Having
// the migration in code keeps the stack self-contained so docker-compose can
// bootstrap everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL,
	object_key TEXT NOT NULL,
	elements INT NOT NULL,
	detected_language TEXT NOT NULL,
	suggested_days INT NOT NULL,
	suggested_hours DOUBLE PRECISION NOT NULL,
	suggested_total_hours DOUBLE PRECISION NOT NULL,
	estimated_minutes INT NOT NULL,
	days INT,
	hours_per_day DOUBLE PRECISION,
	status TEXT NOT NULL,
	progress_percent INT NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	eta_minutes INT NOT NULL DEFAULT 0,
	result_url TEXT,
	result_key TEXT,
	download_token TEXT,
	token_expires_at TIMESTAMPTZ,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE TABLE IF NOT EXISTS notifications (
	task_id TEXT PRIMARY KEY REFERENCES tasks(task_id),
	email TEXT NOT NULL,
	sent BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	sent_at TIMESTAMPTZ
);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
