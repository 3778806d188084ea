package repository

import (
	"context"
	"sync"
	"time"

	"github.com/dharsanguruparan/learnscaffold/internal/model"
)

// MemoryStore is an in-memory Store guarded by an RWMutex. It backs unit tests
// and mirrors the transition rules the SQL store enforces with guarded updates.
type MemoryStore struct {
	mu            sync.RWMutex
	tasks         map[string]*model.Task
	notifications map[string]*model.NotificationRegistration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:         make(map[string]*model.Task),
		notifications: make(map[string]*model.NotificationRegistration),
	}
}

func (m *MemoryStore) CreateTask(_ context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	t.Status = model.StatusPending
	t.CurrentStep = "Waiting to start"
	t.CreatedAt = now
	t.UpdatedAt = now
	clone := *t
	m.tasks[t.TaskID] = &clone
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Returning a copy prevents callers from mutating internal state.
	clone := *t
	return &clone, nil
}

func (m *MemoryStore) ClaimTask(_ context.Context, id string, days int, hoursPerDay float64) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != model.StatusPending {
		return nil, ErrConflict
	}
	t.Status = model.StatusProcessing
	t.Days = days
	t.HoursPerDay = hoursPerDay
	t.CurrentStep = "Starting..."
	t.UpdatedAt = time.Now().UTC()
	clone := *t
	return &clone, nil
}

func (m *MemoryStore) UpdateProgress(_ context.Context, id string, progress int, step string, etaMinutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != model.StatusProcessing {
		return ErrNotFound
	}
	t.ProgressPercent = progress
	t.CurrentStep = step
	t.ETAMinutes = etaMinutes
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id string, res Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != model.StatusProcessing {
		return ErrNotFound
	}
	t.Status = model.StatusCompleted
	t.ProgressPercent = 100
	t.CurrentStep = "Completed"
	t.ETAMinutes = 0
	t.ResultURL = res.ResultURL
	t.ResultKey = res.ResultKey
	t.DownloadToken = res.DownloadToken
	t.TokenExpiresAt = res.TokenExpiresAt
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != model.StatusProcessing {
		return ErrNotFound
	}
	t.Status = model.StatusFailed
	t.ErrorMessage = message
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpsertNotification(_ context.Context, taskID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.notifications[taskID]; ok {
		// Single-slot semantics: replace the address but keep sent/sent_at.
		existing.Email = email
		existing.CreatedAt = now
		return nil
	}
	m.notifications[taskID] = &model.NotificationRegistration{
		TaskID:    taskID,
		Email:     email,
		CreatedAt: now,
	}
	return nil
}

func (m *MemoryStore) GetNotification(_ context.Context, taskID string) (*model.NotificationRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (m *MemoryStore) MarkNotificationSent(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[taskID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	n.Sent = true
	n.SentAt = &now
	return nil
}
