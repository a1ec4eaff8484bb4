package consolidate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/reefwatch/bruvbatch/pkg/models"
)

// Column aliases seen across field teams' metadata sheets. Headers are
// normalized (lowercased, spaces to underscores) before matching.
var (
	filenameColumns    = []string{"filename", "file_name", "video", "video_name", "file"}
	stationColumns     = []string{"station", "station_id", "site", "site_id"}
	collectionColumns  = []string{"collection", "collection_id", "trip", "trip_id"}
	temperatureColumns = []string{"temperature_c", "temperature", "temp_c", "temp"}
	depthColumns       = []string{"depth_m", "depth"}
	visibilityColumns  = []string{"visibility_m", "visibility", "vis"}
)

// LoadStations reads the optional deployment metadata sheet and returns
// station metadata keyed by normalized video filename. A missing file is
// not an error; the batch simply runs without station context. A sheet
// without a recognisable filename column is an error, because every join
// would silently miss.
func LoadStations(path string) (map[string]models.StationMeta, error) {
	if path == "" {
		return map[string]models.StationMeta{}, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]models.StationMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read metadata header: %w", err)
	}
	cols := indexColumns(header)
	fileIdx, ok := findColumn(cols, filenameColumns)
	if !ok {
		return nil, fmt.Errorf("metadata %s has no filename column (header %v)", path, header)
	}

	out := make(map[string]models.StationMeta)
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("metadata row skipped", "path", path, "line", line, "error", err)
			continue
		}
		name := normalizeVideoKey(field(record, fileIdx))
		if name == "" {
			continue
		}
		row := models.StationMeta{
			Station:    lookupField(record, cols, stationColumns),
			Collection: lookupField(record, cols, collectionColumns),
		}
		row.TemperatureC = lookupFloat(record, cols, temperatureColumns)
		row.DepthM = lookupFloat(record, cols, depthColumns)
		row.VisibilityM = lookupFloat(record, cols, visibilityColumns)
		out[name] = row
	}
	return out, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normalizeColumn(h)] = i
	}
	return cols
}

func findColumn(cols map[string]int, aliases []string) (int, bool) {
	for _, a := range aliases {
		if i, ok := cols[a]; ok {
			return i, true
		}
	}
	return 0, false
}

func lookupField(record []string, cols map[string]int, aliases []string) string {
	if i, ok := findColumn(cols, aliases); ok {
		return strings.TrimSpace(field(record, i))
	}
	return ""
}

func lookupFloat(record []string, cols map[string]int, aliases []string) *float64 {
	raw := lookupField(record, cols, aliases)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return record[i]
}

func normalizeColumn(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
}

// normalizeVideoKey matches metadata filenames against video ids the way
// field sheets are actually filled in: case-insensitive, extension
// optional, directories ignored.
func normalizeVideoKey(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}
