package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/dharsanguruparan/learnscaffold/internal/model"
)

// analysisSteps is the fixed ordered sequence every generation run advances
// through. Progress and ETA are derived from the step index.
var analysisSteps = []string{
	"Extracting content...",
	"Analyzing structure...",
	"Identifying key concepts...",
	"Building knowledge graph...",
	"Generating study plan...",
	"Optimizing schedule...",
	"Finalizing output...",
}

// StepExecutor performs the work behind each named step. The simulated
// implementation below only waits; a production executor would run the actual
// analysis stage for the given index under the same progress-reporting
// contract.
type StepExecutor interface {
	Steps() []string
	Run(ctx context.Context, t *model.Task, index int) error
}

// SimulatedExecutor stands in for real analysis work with a bounded randomized
// wait per step.
type SimulatedExecutor struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

func (e SimulatedExecutor) Steps() []string { return analysisSteps }

func (e SimulatedExecutor) Run(ctx context.Context, _ *model.Task, _ int) error {
	min, max := e.MinDelay, e.MaxDelay
	if min <= 0 {
		min = 2 * time.Second
	}
	if max < min {
		max = min
	}
	delay := min
	if span := max - min; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
