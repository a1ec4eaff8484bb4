package dispatch

import (
	"sync"
	"time"

	"github.com/reefwatch/bruvbatch/pkg/models"
)

// Registry is the single owner of all task state. The orchestrator is the
// only writer; observers read consistent snapshots. The claim step is
// atomic, so a task is never Running in two workers at once.
type Registry struct {
	mu    sync.Mutex
	tasks []*models.VideoTask
	byID  map[string]*models.VideoTask
	next  int
}

func NewRegistry(tasks []*models.VideoTask) *Registry {
	r := &Registry{
		tasks: tasks,
		byID:  make(map[string]*models.VideoTask, len(tasks)),
	}
	for _, t := range tasks {
		r.byID[t.ID] = t
	}
	return r
}

// Claim atomically hands the next Pending task to a worker slot, marking
// it Running. The returned value is a copy; workers never touch shared
// task state directly.
func (r *Registry) Claim(workerSlot int) (models.VideoTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ; r.next < len(r.tasks); r.next++ {
		t := r.tasks[r.next]
		if t.Status != models.TaskStatusPending {
			continue
		}
		now := time.Now()
		t.Status = models.TaskStatusRunning
		t.WorkerSlot = workerSlot
		t.StartedAt = &now
		t.Attempts++
		r.next++
		return *t, true
	}
	return models.VideoTask{}, false
}

// SetWindow records the computed stability window and timeout budget on a
// claimed task before dispatch.
func (r *Registry) SetWindow(id string, w *models.StabilityWindow, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		t.Window = w
		t.Timeout = timeout
	}
}

// Complete transitions a Running task to Done (err == nil) or Failed.
// Terminal states never transition again within a run.
func (r *Registry) Complete(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok || t.Status != models.TaskStatusRunning {
		return
	}
	now := time.Now()
	t.CompletedAt = &now
	t.WorkerSlot = -1
	if err != nil {
		t.Status = models.TaskStatusFailed
		t.Error = err.Error()
		return
	}
	t.Status = models.TaskStatusDone
}

// Retrying puts a Running task back to Pending for another attempt under
// the retry policy, keeping its attempt count.
func (r *Registry) Retrying(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok || t.Status != models.TaskStatusRunning {
		return
	}
	t.Status = models.TaskStatusPending
	t.WorkerSlot = -1
	if r.idx(t) < r.next {
		r.next = r.idx(t)
	}
}

func (r *Registry) idx(task *models.VideoTask) int {
	for i, t := range r.tasks {
		if t == task {
			return i
		}
	}
	return len(r.tasks)
}

// Snapshot returns copies of every task for observers.
func (r *Registry) Snapshot() []models.VideoTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.VideoTask, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = *t
	}
	return out
}

// Counts is the per-status tally surfaced by the reporter and the final
// batch summary.
type Counts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (c Counts) Total() int {
	return c.Pending + c.Running + c.Done + c.Failed + c.Skipped
}

func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c Counts
	for _, t := range r.tasks {
		switch t.Status {
		case models.TaskStatusPending:
			c.Pending++
		case models.TaskStatusRunning:
			c.Running++
		case models.TaskStatusDone:
			c.Done++
		case models.TaskStatusFailed:
			c.Failed++
		case models.TaskStatusSkipped:
			c.Skipped++
		}
	}
	return c
}
