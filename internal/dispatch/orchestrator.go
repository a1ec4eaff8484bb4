// Package dispatch owns the bounded worker pool that drives the external
// detection process across a batch of videos. Workers are plain sequential
// loops; all shared task state lives behind the Registry.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reefwatch/bruvbatch/internal/artifact"
	"github.com/reefwatch/bruvbatch/pkg/models"
)

// WindowFunc computes the stability window for a claimed task. A nil
// function, or an error from it, analyzes the full video — never skip a
// video because the pre-pass failed.
type WindowFunc func(ctx context.Context, task models.VideoTask) (models.StabilityWindow, error)

// TimeoutPolicy derives a per-task budget from the video's duration. A
// fixed timeout either kills legitimate long videos or wastes hours on a
// hung short one; proportional scaling handles both.
type TimeoutPolicy struct {
	SampleFPS       float64
	SecondsPerFrame float64
	SafetyMargin    float64
	Floor           time.Duration
}

func (p TimeoutPolicy) For(durationSec float64) time.Duration {
	seconds := durationSec * p.SampleFPS * p.SecondsPerFrame * p.SafetyMargin
	budget := time.Duration(seconds * float64(time.Second))
	if budget < p.Floor {
		budget = p.Floor
	}
	return budget
}

type Orchestrator struct {
	Registry *Registry
	Runner   Runner
	Timeout  TimeoutPolicy
	Retry    RetryPolicy
	Window   WindowFunc
	// OutputRoot locates the artifact each task must leave behind.
	OutputRoot string
}

// Run processes every non-terminal task with workerCount worker slots and
// blocks until all tasks are terminal or ctx is cancelled. On cancellation
// every in-flight process is terminated and its task marked Failed, so a
// resume run re-attempts it; unclaimed tasks simply stay Pending.
func (o *Orchestrator) Run(ctx context.Context, workerCount int) Counts {
	if workerCount < 1 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for slot := 0; slot < workerCount; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			o.workerLoop(ctx, slot)
		}(slot)
	}
	wg.Wait()

	return o.Registry.Counts()
}

func (o *Orchestrator) workerLoop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		task, ok := o.Registry.Claim(slot)
		if !ok {
			return
		}
		o.process(ctx, slot, task)
	}
}

func (o *Orchestrator) process(ctx context.Context, slot int, task models.VideoTask) {
	log := slog.With("video", task.ID, "slot", slot, "attempt", task.Attempts)

	if o.Window != nil && task.Window == nil {
		w, err := o.Window(ctx, task)
		if err != nil {
			log.Warn("stability pre-pass failed, analyzing full video", "error", err)
			w = models.StabilityWindow{StartSec: 0, EndSec: task.DurationSec}
		}
		task.Window = &w
	}

	timeout := o.Timeout.For(task.DurationSec)
	o.Registry.SetWindow(task.ID, task.Window, timeout)
	log.Info("dispatching detector",
		"timeout", timeout,
		"window_start", windowStart(task.Window),
		"window_end", windowEnd(task.Window, task.DurationSec))

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	err := o.Runner.Run(runCtx, task)
	cancel()

	if err == nil && !artifact.Valid(artifact.CSVPath(o.OutputRoot, task.ID)) {
		err = &TaskError{Kind: ErrTaskOutputMissing}
	}

	if err == nil {
		o.Registry.Complete(task.ID, nil)
		log.Info("video done")
		return
	}

	var te *TaskError
	if taskErr, ok := err.(*TaskError); ok {
		te = taskErr
	}
	if te != nil && te.Output != "" {
		log.Error("detector failed", "error", err, "output_tail", te.Output)
	} else {
		log.Error("detector failed", "error", err)
	}

	// Cancellation is never retried in-run; the resume contract covers it.
	if ctx.Err() == nil && o.Retry.Allows(task.Attempts) {
		log.Warn("retrying per policy", "backoff", o.Retry.Backoff)
		o.Registry.Retrying(task.ID)
		if o.Retry.Backoff > 0 {
			select {
			case <-time.After(o.Retry.Backoff):
			case <-ctx.Done():
			}
		}
		return
	}

	o.Registry.Complete(task.ID, err)
}

func windowStart(w *models.StabilityWindow) float64 {
	if w == nil {
		return 0
	}
	return w.StartSec
}

func windowEnd(w *models.StabilityWindow, duration float64) float64 {
	if w == nil {
		return duration
	}
	return w.EndSec
}
