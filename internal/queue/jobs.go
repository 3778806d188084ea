package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// GeneratePlanTask is scheduled each time a claimed task starts generation.
	GeneratePlanTask = "plan:generate"
)

// GeneratePayload is serialized into the task payload so the worker knows which
// record to advance and under which parameters.
type GeneratePayload struct {
	TaskID      string  `json:"task_id"`
	Days        int     `json:"days"`
	HoursPerDay float64 `json:"hours_per_day"`
}

// Enqueuer schedules background generation. The API depends on this interface
// so tests can swap the Redis-backed client for a stub.
type Enqueuer interface {
	EnqueueGenerate(ctx context.Context, payload GeneratePayload) error
}

// Client is the asynq-backed Enqueuer.
type Client struct {
	inner *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueGenerate enqueues a generation job. The asynq task id is pinned to the
// task identifier so a duplicate enqueue cannot schedule a second executor, and
// retries are disabled because execution failure is terminal.
func (c *Client) EnqueueGenerate(ctx context.Context, payload GeneratePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(GeneratePlanTask, data)
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.TaskID(payload.TaskID), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue generate task: %w", err)
	}
	return nil
}
