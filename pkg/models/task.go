package models

import "time"

const (
	TaskStatusPending = "pending"
	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusFailed  = "failed"
	TaskStatusSkipped = "skipped"
)

// StabilityWindow is the sub-interval of a video worth analyzing, excluding
// the camera deployment descent and retrieval ascent.
type StabilityWindow struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// VideoTask is one video queued for detection. The dispatch registry owns
// every task exclusively; workers receive copies and report back through
// the registry's claim/complete calls.
type VideoTask struct {
	// ID is the input-root-relative path of the video and doubles as the
	// video id in all output artifacts.
	ID   string `json:"id"`
	Path string `json:"path"`

	DurationSec float64          `json:"duration_sec"`
	FPS         float64          `json:"fps,omitempty"`
	Window      *StabilityWindow `json:"window,omitempty"`

	// ArtifactDir is the deterministic per-video output directory the
	// detector writes into.
	ArtifactDir string `json:"artifact_dir"`

	Status  string        `json:"status"`
	Timeout time.Duration `json:"timeout_ns,omitempty"`

	// WorkerSlot is the claiming worker while Running, -1 otherwise.
	WorkerSlot int `json:"worker_slot"`

	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the task can no longer change status this run.
func (t *VideoTask) Terminal() bool {
	switch t.Status {
	case TaskStatusDone, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}
