package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/reefwatch/bruvbatch/pkg/models"
)

// Runner invokes the external detection process for one claimed task. The
// context carries the task's timeout budget; implementations must kill the
// process when it expires.
type Runner interface {
	Run(ctx context.Context, task models.VideoTask) error
}

// ExecRunner shells out to the detector binary:
//
//	<bin> --video <path> --output <dir> --start <sec> --end <sec>
//
// On success the process must write detections.csv inside the output
// directory and exit 0; artifact validation is the orchestrator's job.
type ExecRunner struct {
	Bin string
}

const outputTailBytes = 8 << 10

func (e ExecRunner) Run(ctx context.Context, task models.VideoTask) error {
	if err := os.MkdirAll(task.ArtifactDir, 0o755); err != nil {
		return &TaskError{Kind: ErrTaskProcess, Detail: fmt.Errorf("create artifact dir: %w", err)}
	}

	start, end := 0.0, task.DurationSec
	if task.Window != nil {
		start, end = task.Window.StartSec, task.Window.EndSec
	}

	cmd := exec.CommandContext(ctx, e.Bin,
		"--video", task.Path,
		"--output", task.ArtifactDir,
		"--start", strconv.FormatFloat(start, 'f', 3, 64),
		"--end", strconv.FormatFloat(end, 'f', 3, 64),
	)

	// Keep only the tail of each stream; a hung detector can emit
	// gigabytes of progress lines before the timeout fires.
	tail := newTailWriter(outputTailBytes)
	cmd.Stdout = tail
	cmd.Stderr = tail

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TaskError{Kind: ErrTaskTimeout, Detail: err, Output: tail.String()}
	}
	if ctx.Err() != nil {
		return &TaskError{Kind: ErrCancelled, Detail: err, Output: tail.String()}
	}
	return &TaskError{Kind: ErrTaskProcess, Detail: err, Output: tail.String()}
}

// tailWriter keeps the last n bytes written to it. Both process streams
// share one instance, so writes are locked.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailWriter(limit int) *tailWriter {
	return &tailWriter{limit: limit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
