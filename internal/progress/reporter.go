// Package progress renders periodic summaries of a running batch. It is a
// pure observer over registry snapshots; removing it cannot affect
// orchestration.
package progress

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/reefwatch/bruvbatch/internal/dispatch"
	"github.com/reefwatch/bruvbatch/pkg/models"
)

// throughputWindow bounds how many recent completions feed the rate
// estimate, so a slow first hour does not poison the ETA all day.
const throughputWindow = 20

// Status is one rendered snapshot of the batch.
type Status struct {
	Counts        dispatch.Counts `json:"counts"`
	Running       []string        `json:"running"`
	ElapsedSec    float64         `json:"elapsed_sec"`
	VideosPerHour float64         `json:"videos_per_hour"`
	ETASec        float64         `json:"eta_sec,omitempty"`
	MeanTaskSec   float64         `json:"mean_task_sec,omitempty"`
	FailedVideos  []string        `json:"failed_videos,omitempty"`
}

type Reporter struct {
	registry *dispatch.Registry
	interval time.Duration
	started  time.Time
}

func NewReporter(registry *dispatch.Registry, interval time.Duration) *Reporter {
	return &Reporter{registry: registry, interval: interval, started: time.Now()}
}

// Run logs a snapshot every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := r.Snapshot()
			slog.Info("batch progress",
				"pending", s.Counts.Pending,
				"running", s.Counts.Running,
				"done", s.Counts.Done,
				"failed", s.Counts.Failed,
				"skipped", s.Counts.Skipped,
				"videos_per_hour", s.VideosPerHour,
				"eta_sec", s.ETASec,
				"in_flight", s.Running,
			)
		}
	}
}

// Snapshot derives a Status from the current registry state.
func (r *Reporter) Snapshot() Status {
	tasks := r.registry.Snapshot()
	s := Status{
		Counts:     r.registry.Counts(),
		ElapsedSec: time.Since(r.started).Seconds(),
	}

	var completed []models.VideoTask
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusRunning:
			s.Running = append(s.Running, t.ID)
		case models.TaskStatusFailed:
			s.FailedVideos = append(s.FailedVideos, t.ID)
			if t.CompletedAt != nil {
				completed = append(completed, t)
			}
		case models.TaskStatusDone:
			if t.CompletedAt != nil {
				completed = append(completed, t)
			}
		}
	}

	if len(completed) == 0 {
		return s
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CompletedAt.Before(*completed[j].CompletedAt)
	})
	recent := completed
	if len(recent) > throughputWindow {
		recent = recent[len(recent)-throughputWindow:]
	}

	var taskSecs float64
	for _, t := range recent {
		if t.StartedAt != nil {
			taskSecs += t.CompletedAt.Sub(*t.StartedAt).Seconds()
		}
	}
	s.MeanTaskSec = taskSecs / float64(len(recent))

	if recent[0].StartedAt == nil {
		return s
	}
	span := time.Since(*recent[0].StartedAt).Seconds()
	if span <= 0 {
		return s
	}
	rate := float64(len(recent)) / span // videos per second
	s.VideosPerHour = rate * 3600
	if remaining := s.Counts.Pending + s.Counts.Running; remaining > 0 && rate > 0 {
		s.ETASec = float64(remaining) / rate
	}
	return s
}
