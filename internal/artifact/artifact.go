// Package artifact defines the on-disk contract between the detector
// subprocess and everything that consumes its output: the deterministic
// per-video output directory and the detections.csv schema.
package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/reefwatch/bruvbatch/pkg/models"
)

// FileName is the detection file the subprocess must write inside its
// output directory on a clean exit.
const FileName = "detections.csv"

// Columns is the required header of a per-video detection file.
var Columns = []string{
	"video_path", "video_name", "frame", "time",
	"xmin", "ymin", "xmax", "ymax", "w", "h",
	"confidence", "label", "track_id",
}

var ErrBadHeader = errors.New("artifact header does not match detection schema")

// Dir returns the output directory for a video id (its input-root-relative
// path): <outputRoot>/<relative dir>/<stem>. Each task writes only inside
// its own directory, so workers never contend on the output tree.
func Dir(outputRoot, videoID string) string {
	stem := strings.TrimSuffix(filepath.Base(videoID), filepath.Ext(videoID))
	return filepath.Join(outputRoot, filepath.Dir(videoID), stem)
}

// CSVPath returns the detection file path for a video id.
func CSVPath(outputRoot, videoID string) string {
	return filepath.Join(Dir(outputRoot, videoID), FileName)
}

// ParseResult carries the rows recovered from one artifact plus the count
// of malformed rows that were skipped.
type ParseResult struct {
	Rows      []models.DetectionRow
	BadRows   int
	RowErrors []error
}

// ParseFile reads a detection file. IO failures and a bad header are
// returned as errors; individual malformed rows are recovered, counted and
// reported in the result so callers can decide how strict to be.
func ParseFile(path string) (ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // row length is validated per row for recovery

	header, err := r.Read()
	if err != nil {
		return ParseResult{}, fmt.Errorf("read artifact header: %w", err)
	}
	if !headerMatches(header) {
		return ParseResult{}, fmt.Errorf("%w: %v", ErrBadHeader, header)
	}

	var res ParseResult
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.BadRows++
			res.RowErrors = append(res.RowErrors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		row, err := parseRow(record)
		if err != nil {
			res.BadRows++
			res.RowErrors = append(res.RowErrors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// Valid reports whether a prior artifact can be trusted for resume. The
// bar is higher than consolidation's: any malformed row means the previous
// run may have died mid-write, and re-processing is preferred over trusting
// ambiguous state. An empty file with a valid header is a completed video
// with no detections.
func Valid(path string) bool {
	res, err := ParseFile(path)
	if err != nil {
		return false
	}
	return res.BadRows == 0
}

func headerMatches(header []string) bool {
	if len(header) != len(Columns) {
		return false
	}
	for i, c := range Columns {
		if strings.TrimSpace(header[i]) != c {
			return false
		}
	}
	return true
}

func parseRow(record []string) (models.DetectionRow, error) {
	var row models.DetectionRow
	if len(record) != len(Columns) {
		return row, fmt.Errorf("expected %d fields, got %d", len(Columns), len(record))
	}

	row.VideoID = record[0]
	row.VideoName = record[1]
	row.Label = record[11]

	var err error
	if row.Frame, err = strconv.Atoi(record[2]); err != nil {
		return row, fmt.Errorf("invalid frame: %w", err)
	}
	if row.TimeSec, err = strconv.ParseFloat(record[3], 64); err != nil {
		return row, fmt.Errorf("invalid time: %w", err)
	}
	if row.XMin, err = strconv.ParseFloat(record[4], 64); err != nil {
		return row, fmt.Errorf("invalid xmin: %w", err)
	}
	if row.YMin, err = strconv.ParseFloat(record[5], 64); err != nil {
		return row, fmt.Errorf("invalid ymin: %w", err)
	}
	if row.XMax, err = strconv.ParseFloat(record[6], 64); err != nil {
		return row, fmt.Errorf("invalid xmax: %w", err)
	}
	if row.YMax, err = strconv.ParseFloat(record[7], 64); err != nil {
		return row, fmt.Errorf("invalid ymax: %w", err)
	}
	if row.FrameW, err = strconv.Atoi(record[8]); err != nil {
		return row, fmt.Errorf("invalid w: %w", err)
	}
	if row.FrameH, err = strconv.Atoi(record[9]); err != nil {
		return row, fmt.Errorf("invalid h: %w", err)
	}
	if row.Confidence, err = strconv.ParseFloat(record[10], 64); err != nil {
		return row, fmt.Errorf("invalid confidence: %w", err)
	}
	if row.TrackID, err = strconv.Atoi(record[12]); err != nil {
		return row, fmt.Errorf("invalid track_id: %w", err)
	}
	return row, nil
}
