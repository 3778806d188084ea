// Package repository persists task and notification records. Store is the
// narrow interface consumed by the API and worker; PostgresStore backs it in
// production and MemoryStore backs it in tests.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/learnscaffold/internal/model"
)

var (
	// ErrNotFound indicates an unknown task identifier.
	ErrNotFound = errors.New("task not found")
	// ErrConflict indicates a claim attempt on a task that is not pending.
	ErrConflict = errors.New("task is not pending")
)

// Completion carries everything persisted when a task finishes successfully:
// the artifact reference plus the issued download credentials.
type Completion struct {
	ResultURL      string
	ResultKey      string
	DownloadToken  string
	TokenExpiresAt time.Time
}

// Store is the injected persistence abstraction over tasks and notification
// registrations.
type Store interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// ClaimTask atomically moves a pending task to processing, storing the
	// generation parameters. It returns ErrNotFound for unknown ids and
	// ErrConflict when the task is in any non-pending state, so no two
	// executors can ever be scheduled for the same task.
	ClaimTask(ctx context.Context, id string, days int, hoursPerDay float64) (*model.Task, error)
	// UpdateProgress writes a progress snapshot; it only applies while the
	// task is processing, preserving terminal-state immutability.
	UpdateProgress(ctx context.Context, id string, progress int, step string, etaMinutes int) error
	MarkCompleted(ctx context.Context, id string, res Completion) error
	MarkFailed(ctx context.Context, id, message string) error

	UpsertNotification(ctx context.Context, taskID, email string) error
	GetNotification(ctx context.Context, taskID string) (*model.NotificationRegistration, error)
	MarkNotificationSent(ctx context.Context, taskID string) error
}
