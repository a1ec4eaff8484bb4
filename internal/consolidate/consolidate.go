// Package consolidate merges all per-video detection artifacts under the
// output root into one master dataset: duplicate rows from redundant
// processing runs are dropped, per-video track ids are renumbered into a
// single global id space and per-station abundance summaries are derived.
// The pass is a full recompute every time; running it twice on unchanged
// inputs yields identical bytes.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sort"

	"github.com/reefwatch/bruvbatch/internal/artifact"
	"github.com/reefwatch/bruvbatch/pkg/models"
)

// ErrConsolidationIO marks failures reading or writing the output root.
// Unlike a malformed artifact, which only excludes that artifact, this is
// fatal to the whole pass.
var ErrConsolidationIO = errors.New("consolidation io failure")

// fallbackStation groups videos that have no metadata row and sit directly
// under the input root, so they still appear in the station summaries.
const fallbackStation = "ungrouped"

type Engine struct {
	OutputRoot   string
	MetadataPath string
}

// Result is the consolidated dataset plus the bookkeeping the summary
// report is built from.
type Result struct {
	Records   []models.ConsolidatedRecord
	Tracks    []models.Track
	Summaries []models.StationSummary

	Artifacts  int // detection files read, including empty ones
	RawRows    int // rows recovered before deduplication
	Duplicates int // rows dropped by the dedup key
	BadRows    int // malformed rows skipped during parsing
}

// Run reads every detection artifact under the output root and builds the
// consolidated dataset. A malformed artifact is logged and excluded;
// only an unreadable output tree aborts the pass.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	stations, err := LoadStations(e.MetadataPath)
	if err != nil {
		return nil, err
	}

	paths, err := e.discover(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{Artifacts: len(paths)}
	var rows []models.DetectionRow
	for _, p := range paths {
		parsed, err := artifact.ParseFile(p)
		if err != nil {
			slog.Warn("artifact excluded from consolidation", "path", p, "error", err)
			res.Artifacts--
			continue
		}
		if parsed.BadRows > 0 {
			slog.Warn("malformed rows skipped", "path", p, "bad_rows", parsed.BadRows)
			res.BadRows += parsed.BadRows
		}
		rows = append(rows, parsed.Rows...)
	}
	res.RawRows = len(rows)

	kept := deduplicate(rows)
	res.Duplicates = len(rows) - len(kept)

	res.Tracks = buildTracks(kept)
	globalID := make(map[trackKey]int, len(res.Tracks))
	for _, t := range res.Tracks {
		globalID[trackKey{t.VideoID, t.RawTrackID}] = t.GlobalID
	}

	res.Records = make([]models.ConsolidatedRecord, 0, len(kept))
	for _, row := range kept {
		meta := stations[normalizeVideoKey(row.VideoName)]
		if meta.Station == "" {
			meta.Station = stationFromVideoID(row.VideoID)
		}
		res.Records = append(res.Records, models.ConsolidatedRecord{
			DetectionRow:  row,
			GlobalTrackID: globalID[trackKey{row.VideoID, row.TrackID}],
			Meta:          meta,
		})
	}

	res.Summaries = summarize(res.Records)
	return res, nil
}

// discover lists every detection file under the output root in sorted
// order, so downstream tie-breaks are stable across runs.
func (e *Engine) discover(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(e.OutputRoot, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == artifact.FileName {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", ErrConsolidationIO, e.OutputRoot, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// deduplicate keeps the first occurrence of each dedup key. Two rows with
// bit-identical (video, frame, bbox, confidence) cannot be two real
// detections; the later one is a leftover of a redundant processing run.
func deduplicate(rows []models.DetectionRow) []models.DetectionRow {
	seen := make(map[models.DedupKey]struct{}, len(rows))
	kept := rows[:0:0]
	for _, row := range rows {
		k := row.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, row)
	}
	return kept
}

type trackKey struct {
	videoID string
	raw     int
}

// buildTracks groups rows by their per-video track id and assigns global
// ids sequentially from 0 in (video id, first frame, raw id) order. The
// ordering is a function of the input set only, so unchanged inputs get
// identical ids.
func buildTracks(rows []models.DetectionRow) []models.Track {
	byKey := make(map[trackKey]*models.Track)
	for _, row := range rows {
		k := trackKey{row.VideoID, row.TrackID}
		t, ok := byKey[k]
		if !ok {
			t = &models.Track{
				VideoID:    row.VideoID,
				RawTrackID: row.TrackID,
				FirstFrame: row.Frame,
				LastFrame:  row.Frame,
				Label:      row.Label,
				MaxConf:    row.Confidence,
			}
			byKey[k] = t
		}
		if row.Frame < t.FirstFrame {
			t.FirstFrame = row.Frame
		}
		if row.Frame > t.LastFrame {
			t.LastFrame = row.Frame
		}
		if row.Confidence > t.MaxConf {
			t.MaxConf = row.Confidence
			t.Label = row.Label
		}
		t.Frames = append(t.Frames, row.Frame)
	}

	tracks := make([]models.Track, 0, len(byKey))
	for _, t := range byKey {
		tracks = append(tracks, *t)
	}
	sort.Slice(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if a.VideoID != b.VideoID {
			return a.VideoID < b.VideoID
		}
		if a.FirstFrame != b.FirstFrame {
			return a.FirstFrame < b.FirstFrame
		}
		return a.RawTrackID < b.RawTrackID
	})
	for i := range tracks {
		tracks[i].GlobalID = i
	}
	return tracks
}

// summarize derives the per-station aggregates. MaxN for a label is the
// largest count of distinct global tracks of that label present together
// in any single frame of any one video at the station.
func summarize(records []models.ConsolidatedRecord) []models.StationSummary {
	type frameKey struct {
		videoID string
		frame   int
		label   string
	}
	byStation := make(map[string]*models.StationSummary)
	concurrent := make(map[string]map[frameKey]map[int]struct{})
	stationTracks := make(map[string]map[int]struct{})
	stationLabels := make(map[string]map[string]struct{})
	stationVideos := make(map[string]map[string]struct{})

	for _, rec := range records {
		st := rec.Meta.Station
		s, ok := byStation[st]
		if !ok {
			s = &models.StationSummary{Station: st, MaxNByLabel: make(map[string]int)}
			byStation[st] = s
			concurrent[st] = make(map[frameKey]map[int]struct{})
			stationTracks[st] = make(map[int]struct{})
			stationLabels[st] = make(map[string]struct{})
			stationVideos[st] = make(map[string]struct{})
		}

		fk := frameKey{rec.VideoID, rec.Frame, rec.Label}
		if concurrent[st][fk] == nil {
			concurrent[st][fk] = make(map[int]struct{})
		}
		concurrent[st][fk][rec.GlobalTrackID] = struct{}{}
		if n := len(concurrent[st][fk]); n > s.MaxNByLabel[rec.Label] {
			s.MaxNByLabel[rec.Label] = n
		}

		stationTracks[st][rec.GlobalTrackID] = struct{}{}
		stationLabels[st][rec.Label] = struct{}{}
		stationVideos[st][rec.VideoID] = struct{}{}
	}

	summaries := make([]models.StationSummary, 0, len(byStation))
	for st, s := range byStation {
		s.TrackCount = len(stationTracks[st])
		s.SpeciesRichness = len(stationLabels[st])
		for v := range stationVideos[st] {
			s.VideoIDs = append(s.VideoIDs, v)
		}
		sort.Strings(s.VideoIDs)
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Station < summaries[j].Station
	})
	return summaries
}

// stationFromVideoID falls back to the video's directory within the input
// tree when no metadata row matched, so BRUV trips organised one directory
// per deployment still group sensibly without a metadata file.
func stationFromVideoID(videoID string) string {
	dir := path.Dir(videoID)
	if dir == "." || dir == "/" {
		return fallbackStation
	}
	return dir
}
