package consolidate

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// masterColumns is the schema of the consolidated output.csv. It extends
// the per-video artifact schema with the global track id and the joined
// station fields.
var masterColumns = []string{
	"video_path", "video_name", "frame", "time",
	"xmin", "ymin", "xmax", "ymax", "w", "h",
	"confidence", "label", "track_id",
	"station", "collection", "temperature_c", "depth_m", "visibility_m",
}

var maxnColumns = []string{
	"station", "label", "maxn", "tracks", "species_richness", "videos",
}

// WriteMaster writes the consolidated dataset. Record order is the
// deterministic order produced by Run, so the file is byte-stable across
// re-runs on unchanged inputs.
func WriteMaster(path string, res *Result) error {
	return writeCSV(path, masterColumns, func(w *csv.Writer) error {
		for _, rec := range res.Records {
			row := []string{
				rec.VideoID,
				rec.VideoName,
				strconv.Itoa(rec.Frame),
				formatSeconds(rec.TimeSec),
				formatFloat(rec.XMin),
				formatFloat(rec.YMin),
				formatFloat(rec.XMax),
				formatFloat(rec.YMax),
				strconv.Itoa(rec.FrameW),
				strconv.Itoa(rec.FrameH),
				formatFloat(rec.Confidence),
				rec.Label,
				strconv.Itoa(rec.GlobalTrackID),
				rec.Meta.Station,
				rec.Meta.Collection,
				formatOptional(rec.Meta.TemperatureC),
				formatOptional(rec.Meta.DepthM),
				formatOptional(rec.Meta.VisibilityM),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteMaxN writes one row per (station, label) with the station-level
// aggregates repeated, the shape ecologists feed straight into R.
func WriteMaxN(path string, res *Result) error {
	return writeCSV(path, maxnColumns, func(w *csv.Writer) error {
		for _, s := range res.Summaries {
			labels := make([]string, 0, len(s.MaxNByLabel))
			for l := range s.MaxNByLabel {
				labels = append(labels, l)
			}
			sort.Strings(labels)
			for _, label := range labels {
				row := []string{
					s.Station,
					label,
					strconv.Itoa(s.MaxNByLabel[label]),
					strconv.Itoa(s.TrackCount),
					strconv.Itoa(s.SpeciesRichness),
					strings.Join(s.VideoIDs, ";"),
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// WriteSummary writes the human-readable batch report. It carries no
// timestamps so unchanged inputs produce identical bytes.
func WriteSummary(path string, res *Result) error {
	var b strings.Builder
	b.WriteString("# Batch Consolidation Summary\n\n")
	fmt.Fprintf(&b, "- Videos with artifacts: %d\n", res.Artifacts)
	fmt.Fprintf(&b, "- Detections retained: %d\n", len(res.Records))
	fmt.Fprintf(&b, "- Duplicate rows removed: %d\n", res.Duplicates)
	fmt.Fprintf(&b, "- Malformed rows skipped: %d\n", res.BadRows)
	fmt.Fprintf(&b, "- Tracks: %d\n", len(res.Tracks))
	fmt.Fprintf(&b, "- Stations: %d\n", len(res.Summaries))

	if len(res.Summaries) > 0 {
		b.WriteString("\n## Stations\n\n")
		b.WriteString("| Station | Tracks | Species | Videos |\n")
		b.WriteString("|---------|--------|---------|--------|\n")
		for _, s := range res.Summaries {
			fmt.Fprintf(&b, "| %s | %d | %d | %d |\n",
				s.Station, s.TrackCount, s.SpeciesRichness, len(s.VideoIDs))
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("%w: write summary: %v", ErrConsolidationIO, err)
	}
	return nil
}

func writeCSV(path string, header []string, body func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrConsolidationIO, path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrConsolidationIO, path, err)
	}
	if err := body(w); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrConsolidationIO, path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: flush %s: %v", ErrConsolidationIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrConsolidationIO, path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// formatSeconds keeps millisecond precision, matching the artifact schema.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
