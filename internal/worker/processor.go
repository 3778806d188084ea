package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/learnscaffold/internal/metrics"
	"github.com/dharsanguruparan/learnscaffold/internal/model"
	"github.com/dharsanguruparan/learnscaffold/internal/notify"
	"github.com/dharsanguruparan/learnscaffold/internal/plan"
	"github.com/dharsanguruparan/learnscaffold/internal/queue"
	"github.com/dharsanguruparan/learnscaffold/internal/repository"
	"github.com/dharsanguruparan/learnscaffold/internal/signing"
)

// ObjectStore is the slice of blob storage the worker needs.
type ObjectStore interface {
	UploadResult(ctx context.Context, objectKey string, data []byte) error
}

// Processor is plugged into the asynq worker loop. It owns the whole
// background half of the task lifecycle: step progression, artifact
// production, signed-URL issuance, and notification resolution.
type Processor struct {
	store    repository.Store
	blobs    ObjectStore
	issuer   *signing.Issuer
	mailer   notify.Mailer
	executor StepExecutor
}

// NewProcessor constructs a worker processor.
func NewProcessor(store repository.Store, blobs ObjectStore, issuer *signing.Issuer, mailer notify.Mailer, executor StepExecutor) *Processor {
	return &Processor{
		store:    store,
		blobs:    blobs,
		issuer:   issuer,
		mailer:   mailer,
		executor: executor,
	}
}

// Handler registers the generate job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.GeneratePlanTask, p.HandleGenerate)
	return mux
}

// HandleGenerate advances one claimed task through the full step sequence to a
// terminal state. Errors never propagate past this handler: failure is
// recorded on the task and the job is not retried.
func (p *Processor) HandleGenerate(ctx context.Context, t *asynq.Task) error {
	var payload queue.GeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	started := time.Now()
	task, err := p.store.GetTask(ctx, payload.TaskID)
	if err != nil {
		log.Printf("generate job for unknown task %s: %v", payload.TaskID, err)
		return nil
	}
	if task.Status != model.StatusProcessing {
		// Stale or duplicate delivery; the claim owns the transition.
		log.Printf("skipping generate job for task %s in state %s", task.TaskID, task.Status)
		return nil
	}
	if err := p.run(ctx, task); err != nil {
		log.Printf("generation failed for %s: %v", task.TaskID, err)
		if ferr := p.store.MarkFailed(ctx, task.TaskID, err.Error()); ferr != nil {
			log.Printf("mark failed for %s: %v", task.TaskID, ferr)
		}
		metrics.RecordTaskFailed(time.Since(started))
		return fmt.Errorf("task %s failed: %v: %w", task.TaskID, err, asynq.SkipRetry)
	}
	metrics.RecordTaskCompleted(time.Since(started))
	p.resolveNotification(ctx, task.TaskID)
	log.Printf("task %s completed in %s", task.TaskID, time.Since(started).Round(time.Millisecond))
	return nil
}

func (p *Processor) run(ctx context.Context, task *model.Task) error {
	steps := p.executor.Steps()
	total := len(steps)
	// Average step duration in seconds, derived from the intake estimate.
	stepSeconds := (task.EstimatedMinutes * 60) / total
	if stepSeconds < 5 {
		stepSeconds = 5
	}
	for i, step := range steps {
		progress := (i * 100) / total
		eta := ((total - i) * stepSeconds) / 60
		if eta < 1 {
			eta = 1
		}
		if err := p.store.UpdateProgress(ctx, task.TaskID, progress, step, eta); err != nil {
			return fmt.Errorf("persist progress at step %d: %w", i, err)
		}
		if err := p.executor.Run(ctx, task, i); err != nil {
			return fmt.Errorf("step %q: %w", step, err)
		}
	}

	doc := plan.Build(task, time.Now())
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	resultKey := plan.ObjectKey(task.TaskID)
	if err := p.blobs.UploadResult(ctx, resultKey, data); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	signed, err := p.issuer.Issue(task.TaskID, time.Now())
	if err != nil {
		return err
	}
	res := repository.Completion{
		ResultURL:      signed.URL,
		ResultKey:      resultKey,
		DownloadToken:  signed.Token,
		TokenExpiresAt: signed.ExpiresAt,
	}
	if err := p.store.MarkCompleted(ctx, task.TaskID, res); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	return nil
}

// resolveNotification fires the registered email, if any, and marks the slot
// sent. Delivery problems are logged and left unsent; they never affect the
// completed task.
func (p *Processor) resolveNotification(ctx context.Context, taskID string) {
	reg, err := p.store.GetNotification(ctx, taskID)
	if err != nil {
		return
	}
	if reg.Sent {
		return
	}
	if err := p.mailer.Send(reg.Email, taskID); err != nil {
		log.Printf("notification delivery for %s: %v", taskID, err)
		return
	}
	if err := p.store.MarkNotificationSent(ctx, taskID); err != nil {
		log.Printf("mark notification sent for %s: %v", taskID, err)
		return
	}
	metrics.NotificationsSent.Inc()
}
