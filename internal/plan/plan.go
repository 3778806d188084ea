// Package plan builds the study-plan result artifact produced when a task
// finishes processing.
package plan

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dharsanguruparan/learnscaffold/internal/model"
)

// previewDayCap bounds the artifact size for very long schedules.
const previewDayCap = 30

// Document is the serialized result artifact.
type Document struct {
	TaskID      string    `json:"task_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Settings    Settings  `json:"plan_settings"`
	StudyPlan   StudyPlan `json:"study_plan"`
}

type Settings struct {
	TotalDays   int     `json:"total_days"`
	HoursPerDay float64 `json:"hours_per_day"`
}

type StudyPlan struct {
	Title      string  `json:"title"`
	TotalHours float64 `json:"total_hours"`
	Days       []Day   `json:"days"`
}

type Day struct {
	Day            int      `json:"day"`
	Topics         []string `json:"topics"`
	Activities     []string `json:"activities"`
	EstimatedHours float64  `json:"estimated_hours"`
}

// Build assembles the artifact for a task using its generation parameters. The
// day-by-day preview is capped at previewDayCap entries; total_hours always
// reflects the full schedule.
func Build(t *model.Task, now time.Time) Document {
	days := t.Days
	preview := days
	if preview > previewDayCap {
		preview = previewDayCap
	}
	entries := make([]Day, 0, preview)
	for d := 1; d <= preview; d++ {
		topics := make([]string, 0, 3)
		for i := 1; i <= 3; i++ {
			topics = append(topics, fmt.Sprintf("Topic %d.%d", d, i))
		}
		entries = append(entries, Day{
			Day:            d,
			Topics:         topics,
			Activities:     []string{"Reading", "Practice", "Review"},
			EstimatedHours: t.HoursPerDay,
		})
	}
	return Document{
		TaskID:      t.TaskID,
		GeneratedAt: now.UTC(),
		Settings: Settings{
			TotalDays:   days,
			HoursPerDay: t.HoursPerDay,
		},
		StudyPlan: StudyPlan{
			Title:      fmt.Sprintf("Study Plan - %s", t.Filename),
			TotalHours: float64(days) * t.HoursPerDay,
			Days:       entries,
		},
	}
}

// Encode renders the artifact as indented JSON.
func (d Document) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode study plan: %w", err)
	}
	return data, nil
}

// ObjectKey is the deterministic storage location for a task's artifact.
func ObjectKey(taskID string) string {
	return fmt.Sprintf("results/%s/%s", taskID, Filename(taskID))
}

// Filename is the download name presented to clients.
func Filename(taskID string) string {
	return fmt.Sprintf("study_plan_%s.json", taskID)
}
