// Package inventory enumerates candidate videos under the input root and
// decides, per video, whether a prior run already produced a trustworthy
// artifact (resume support).
package inventory

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/reefwatch/bruvbatch/internal/artifact"
	"github.com/reefwatch/bruvbatch/pkg/models"
)

// DefaultExtensions matches the camera formats seen on BRUV rigs.
var DefaultExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

type Scanner struct {
	InputRoot  string
	OutputRoot string
	Prober     Prober
	// Extensions is compared case-insensitively; nil means DefaultExtensions.
	Extensions []string
}

// Scan walks the input root and returns one VideoTask per discovered video.
// Videos with a valid prior artifact come back already Skipped. An
// unreadable entry is logged and dropped; it never aborts the scan of the
// remaining tree. Re-invoke to rescan.
func (s *Scanner) Scan(ctx context.Context) ([]*models.VideoTask, error) {
	exts := make(map[string]bool)
	list := s.Extensions
	if list == nil {
		list = DefaultExtensions
	}
	for _, e := range list {
		exts[strings.ToLower(e)] = true
	}

	var tasks []*models.VideoTask

	err := filepath.WalkDir(s.InputRoot, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Fatal to this one entry only.
			slog.Warn("unreadable entry skipped", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(s.InputRoot, path)
		if err != nil {
			slog.Warn("cannot relativize video path, skipped", "path", path, "error", err)
			return nil
		}

		task := &models.VideoTask{
			ID:          filepath.ToSlash(rel),
			Path:        path,
			ArtifactDir: artifact.Dir(s.OutputRoot, rel),
			Status:      models.TaskStatusPending,
			WorkerSlot:  -1,
		}

		if artifact.Valid(artifact.CSVPath(s.OutputRoot, rel)) {
			task.Status = models.TaskStatusSkipped
			tasks = append(tasks, task)
			return nil
		}

		if s.Prober != nil {
			meta, err := s.Prober.Probe(ctx, path)
			if err != nil {
				// Without a duration there is no timeout budget; the entry
				// is unprocessable this run.
				slog.Warn("duration probe failed, video skipped this run", "video", task.ID, "error", err)
				return nil
			}
			task.DurationSec = meta.DurationSec
			task.FPS = meta.FPS
		}

		tasks = append(tasks, task)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tasks, nil
}
