package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reefwatch/bruvbatch/internal/artifact"
	"github.com/reefwatch/bruvbatch/pkg/models"
)

const artifactHeader = "video_path,video_name,frame,time,xmin,ymin,xmax,ymax,w,h,confidence,label,track_id\n"

// fakeRunner simulates the detector. By default it writes a valid empty
// artifact, the way a clean run with no detections would.
type fakeRunner struct {
	outputRoot string
	calls      atomic.Int64
	fail       func(task models.VideoTask) error
	skipWrite  func(task models.VideoTask) bool
	block      chan struct{} // when set, Run blocks until ctx is done
}

func (f *fakeRunner) Run(ctx context.Context, task models.VideoTask) error {
	f.calls.Add(1)
	if f.block != nil {
		<-ctx.Done()
		return &TaskError{Kind: ErrCancelled, Detail: ctx.Err()}
	}
	if f.fail != nil {
		if err := f.fail(task); err != nil {
			return err
		}
	}
	if f.skipWrite != nil && f.skipWrite(task) {
		return nil
	}
	path := artifact.CSVPath(f.outputRoot, task.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(artifactHeader), 0o644)
}

func pendingTask(id string, durationSec float64) *models.VideoTask {
	return &models.VideoTask{
		ID:          id,
		Path:        "/in/" + id,
		DurationSec: durationSec,
		Status:      models.TaskStatusPending,
		WorkerSlot:  -1,
	}
}

func newOrchestrator(t *testing.T, runner *fakeRunner, tasks ...*models.VideoTask) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Registry:   NewRegistry(tasks),
		Runner:     runner,
		Timeout:    TimeoutPolicy{SampleFPS: 5, SecondsPerFrame: 0.5, SafetyMargin: 2, Floor: time.Second},
		Retry:      DefaultRetryPolicy,
		OutputRoot: runner.outputRoot,
	}
}

func TestTimeoutPolicy_ScalesWithDuration(t *testing.T) {
	p := TimeoutPolicy{SampleFPS: 5, SecondsPerFrame: 0.5, SafetyMargin: 2}

	short := p.For(10 * 60) // 10-minute video
	long := p.For(60 * 60)  // 60-minute video

	ratio := float64(long) / float64(short)
	assert.InDelta(t, 6.0, ratio, 0.01, "timeouts should scale ~1:6 with duration")
}

func TestTimeoutPolicy_Floor(t *testing.T) {
	p := TimeoutPolicy{SampleFPS: 5, SecondsPerFrame: 0.5, SafetyMargin: 2, Floor: 2 * time.Minute}
	if got := p.For(1); got != 2*time.Minute {
		t.Errorf("expected floor 2m for a 1s clip, got %v", got)
	}
}

func TestOrchestrator_AllDone(t *testing.T) {
	runner := &fakeRunner{outputRoot: t.TempDir()}
	o := newOrchestrator(t, runner,
		pendingTask("a.mp4", 60), pendingTask("b.mp4", 60), pendingTask("c.mp4", 60))

	counts := o.Run(context.Background(), 2)

	assert.Equal(t, 3, counts.Done)
	assert.Zero(t, counts.Failed)
	assert.Zero(t, counts.Pending)
	assert.EqualValues(t, 3, runner.calls.Load())
}

func TestOrchestrator_ProcessFailure(t *testing.T) {
	runner := &fakeRunner{outputRoot: t.TempDir()}
	runner.fail = func(task models.VideoTask) error {
		if task.ID == "bad.mp4" {
			return &TaskError{Kind: ErrTaskProcess, Detail: errors.New("exit status 1"), Output: "CUDA out of memory"}
		}
		return nil
	}
	o := newOrchestrator(t, runner, pendingTask("bad.mp4", 60), pendingTask("ok.mp4", 60))

	counts := o.Run(context.Background(), 2)

	assert.Equal(t, 1, counts.Done)
	assert.Equal(t, 1, counts.Failed)

	for _, task := range o.Registry.Snapshot() {
		if task.ID == "bad.mp4" {
			assert.Equal(t, models.TaskStatusFailed, task.Status)
			assert.Contains(t, task.Error, "detector process failed")
		}
	}
}

func TestOrchestrator_MissingArtifactIsFailure(t *testing.T) {
	runner := &fakeRunner{outputRoot: t.TempDir()}
	runner.skipWrite = func(task models.VideoTask) bool { return true }
	o := newOrchestrator(t, runner, pendingTask("a.mp4", 60))

	counts := o.Run(context.Background(), 1)

	require.Equal(t, 1, counts.Failed)
	task := o.Registry.Snapshot()[0]
	assert.Contains(t, task.Error, "no valid artifact")
}

func TestOrchestrator_RetryPolicy(t *testing.T) {
	runner := &fakeRunner{outputRoot: t.TempDir()}
	var failures atomic.Int64
	runner.fail = func(task models.VideoTask) error {
		if failures.Add(1) == 1 {
			return &TaskError{Kind: ErrTaskProcess, Detail: errors.New("transient")}
		}
		return nil
	}
	o := newOrchestrator(t, runner, pendingTask("a.mp4", 60))
	o.Retry = RetryPolicy{MaxAttempts: 2}

	counts := o.Run(context.Background(), 1)

	assert.Equal(t, 1, counts.Done)
	assert.EqualValues(t, 2, runner.calls.Load())
	assert.Equal(t, 2, o.Registry.Snapshot()[0].Attempts)
}

func TestOrchestrator_NoRetryByDefault(t *testing.T) {
	runner := &fakeRunner{outputRoot: t.TempDir()}
	runner.fail = func(models.VideoTask) error {
		return &TaskError{Kind: ErrTaskProcess, Detail: errors.New("boom")}
	}
	o := newOrchestrator(t, runner, pendingTask("a.mp4", 60))

	counts := o.Run(context.Background(), 1)

	assert.Equal(t, 1, counts.Failed)
	assert.EqualValues(t, 1, runner.calls.Load(), "default policy must not auto-retry")
}

func TestOrchestrator_CancellationMarksInFlightFailed(t *testing.T) {
	runner := &fakeRunner{outputRoot: t.TempDir(), block: make(chan struct{})}
	o := newOrchestrator(t, runner,
		pendingTask("a.mp4", 600), pendingTask("b.mp4", 600), pendingTask("c.mp4", 600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Counts, 1)
	go func() { done <- o.Run(ctx, 1) }()

	// Wait for the single worker to go in flight, then interrupt the run.
	require.Eventually(t, func() bool {
		return o.Registry.Counts().Running == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	counts := <-done
	assert.Equal(t, 1, counts.Failed, "in-flight task must be Failed, not Done")
	assert.Equal(t, 2, counts.Pending, "unclaimed tasks stay Pending for resume")
	assert.Zero(t, counts.Done)
}

func TestOrchestrator_WindowFuncFailureFailsOpen(t *testing.T) {
	runner := &fakeRunner{outputRoot: t.TempDir()}
	o := newOrchestrator(t, runner, pendingTask("a.mp4", 300))
	o.Window = func(ctx context.Context, task models.VideoTask) (models.StabilityWindow, error) {
		return models.StabilityWindow{}, errors.New("unreadable video header")
	}

	counts := o.Run(context.Background(), 1)

	require.Equal(t, 1, counts.Done)
	task := o.Registry.Snapshot()[0]
	require.NotNil(t, task.Window)
	assert.Equal(t, 0.0, task.Window.StartSec)
	assert.Equal(t, 300.0, task.Window.EndSec)
}
