// Package model contains the record types shared across the API, repository,
// and worker packages.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// TaskStatus describes the lifecycle of an analysis task. Transitions only move
// forward: pending -> processing -> completed | failed. The terminal states are
// never mutated again.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// SuggestedPlan is the estimator's recommendation returned at intake time.
type SuggestedPlan struct {
	RecommendedDays        int     `json:"recommended_days"`
	RecommendedHoursPerDay float64 `json:"recommended_hours_per_day"`
	TotalHours             float64 `json:"total_hours"`
}

// Task tracks one uploaded document through estimate, generation, and result
// delivery. ObjectKey and the download token are server-side details and are
// excluded from JSON output.
type Task struct {
	TaskID           string        `json:"task_id"`
	Filename         string        `json:"filename"`
	FileType         string        `json:"file_type"`
	FileSizeBytes    int64         `json:"file_size_bytes"`
	ObjectKey        string        `json:"-"`
	Elements         int           `json:"pages_or_elements"`
	DetectedLanguage string        `json:"detected_language"`
	SuggestedPlan    SuggestedPlan `json:"suggested_plan"`
	EstimatedMinutes int           `json:"estimated_processing_time_min"`

	// Generation parameters, set when the task is claimed.
	Days        int     `json:"days,omitempty"`
	HoursPerDay float64 `json:"hours_per_day,omitempty"`

	Status          TaskStatus `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	CurrentStep     string     `json:"current_step"`
	ETAMinutes      int        `json:"eta_minutes"`
	ResultURL       string     `json:"result_url,omitempty"`
	ResultKey       string     `json:"-"`
	DownloadToken   string     `json:"-"`
	TokenExpiresAt  time.Time  `json:"-"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NotificationRegistration is the single-slot email registration for a task.
type NotificationRegistration struct {
	TaskID    string     `json:"task_id"`
	Email     string     `json:"email"`
	Sent      bool       `json:"sent"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// DetectedLanguageDefault is reported for every task; language detection is an
// external concern and the service always answers English.
const DetectedLanguageDefault = "en"

// allowedExtensions is the intake allow-list.
var allowedExtensions = map[string]bool{
	".pdf": true,
	".mp4": true,
	".mp3": true,
	".txt": true,
}

// FileExtension returns the lower-cased extension including the dot.
func FileExtension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// AllowedFile reports whether the filename carries a supported extension.
func AllowedFile(filename string) bool {
	return allowedExtensions[FileExtension(filename)]
}
