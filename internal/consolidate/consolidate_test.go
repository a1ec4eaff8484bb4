package consolidate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reefwatch/bruvbatch/internal/artifact"
)

// det builds one artifact row. Geometry is derived from x so two rows with
// different x never collide on the dedup key.
func det(videoID string, frame int, x float64, conf float64, label string, track int) []string {
	return []string{
		videoID,
		filepath.Base(videoID),
		fmt.Sprintf("%d", frame),
		fmt.Sprintf("%.3f", float64(frame)/10),
		fmt.Sprintf("%g", x),
		"10",
		fmt.Sprintf("%g", x+50),
		"60",
		"1920", "1080",
		fmt.Sprintf("%g", conf),
		label,
		fmt.Sprintf("%d", track),
	}
}

func writeArtifact(t *testing.T, root, videoID string, rows ...[]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(artifact.Dir(root, videoID), 0o755))

	var b strings.Builder
	b.WriteString(strings.Join(artifact.Columns, ",") + "\n")
	for _, r := range rows {
		b.WriteString(strings.Join(r, ",") + "\n")
	}
	require.NoError(t, os.WriteFile(artifact.CSVPath(root, videoID), []byte(b.String()), 0o644))
}

func TestRun_TwoVideosWithRedundantCopy(t *testing.T) {
	root := t.TempDir()

	// A: one track across three frames. B: two detections written twice,
	// a leftover of the video having been processed twice.
	writeArtifact(t, root, "A.mp4",
		det("A.mp4", 10, 100, 0.9, "shark", 1),
		det("A.mp4", 25, 110, 0.92, "shark", 1),
		det("A.mp4", 40, 120, 0.91, "shark", 1),
	)
	writeArtifact(t, root, "B.mp4",
		det("B.mp4", 5, 200, 0.8, "ray", 3),
		det("B.mp4", 6, 205, 0.81, "ray", 3),
		det("B.mp4", 5, 200, 0.8, "ray", 3),
		det("B.mp4", 6, 205, 0.81, "ray", 3),
	)

	res, err := (&Engine{OutputRoot: root}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Artifacts)
	assert.Equal(t, 7, res.RawRows)
	assert.Equal(t, 2, res.Duplicates)
	assert.Len(t, res.Records, 5)

	require.Len(t, res.Tracks, 2)
	assert.Equal(t, "A.mp4", res.Tracks[0].VideoID)
	assert.Equal(t, 0, res.Tracks[0].GlobalID)
	assert.Equal(t, "B.mp4", res.Tracks[1].VideoID)
	assert.Equal(t, 1, res.Tracks[1].GlobalID)

	// Both videos sit at the input root and carry no metadata, so they
	// group under the fallback station with MaxN 1 per label.
	require.Len(t, res.Summaries, 1)
	s := res.Summaries[0]
	assert.Equal(t, fallbackStation, s.Station)
	assert.Equal(t, map[string]int{"shark": 1, "ray": 1}, s.MaxNByLabel)
	assert.Equal(t, 2, s.TrackCount)
	assert.Equal(t, 2, s.SpeciesRichness)
	assert.Equal(t, []string{"A.mp4", "B.mp4"}, s.VideoIDs)
}

func TestRun_GlobalIDsContiguous(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "trip1/a.mp4",
		det("trip1/a.mp4", 30, 100, 0.9, "shark", 7),
		det("trip1/a.mp4", 10, 300, 0.7, "shark", 2),
	)
	writeArtifact(t, root, "trip1/b.mp4",
		det("trip1/b.mp4", 5, 100, 0.6, "ray", 1),
	)
	writeArtifact(t, root, "trip2/c.mp4",
		det("trip2/c.mp4", 1, 100, 0.6, "shark", 9),
	)

	res, err := (&Engine{OutputRoot: root}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Tracks, 4)
	for i, tr := range res.Tracks {
		assert.Equal(t, i, tr.GlobalID)
	}
	// Within one video, ordering follows first frame, not raw id.
	assert.Equal(t, 2, res.Tracks[0].RawTrackID)
	assert.Equal(t, 7, res.Tracks[1].RawTrackID)
}

func TestRun_MaxN(t *testing.T) {
	root := t.TempDir()
	// Two sharks in frame 20 at once, plus a lone one later.
	writeArtifact(t, root, "trip1/a.mp4",
		det("trip1/a.mp4", 20, 100, 0.9, "shark", 1),
		det("trip1/a.mp4", 20, 400, 0.8, "shark", 2),
		det("trip1/a.mp4", 90, 100, 0.9, "shark", 3),
	)

	res, err := (&Engine{OutputRoot: root}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Summaries, 1)
	assert.Equal(t, 2, res.Summaries[0].MaxNByLabel["shark"])

	// A video with no detections must not lower the station's MaxN.
	writeArtifact(t, root, "trip1/empty.mp4")
	res, err = (&Engine{OutputRoot: root}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summaries[0].MaxNByLabel["shark"])
	assert.Equal(t, 3, res.Artifacts)

	// A busier video at the same station raises MaxN to its count.
	writeArtifact(t, root, "trip1/busy.mp4",
		det("trip1/busy.mp4", 10, 100, 0.9, "shark", 1),
		det("trip1/busy.mp4", 10, 400, 0.9, "shark", 2),
		det("trip1/busy.mp4", 10, 700, 0.9, "shark", 3),
	)
	res, err = (&Engine{OutputRoot: root}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Summaries[0].MaxNByLabel["shark"])
}

func TestRun_MalformedRowsExcludedNotFatal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(artifact.Dir(root, "a.mp4"), 0o755))
	content := strings.Join(artifact.Columns, ",") + "\n" +
		strings.Join(det("a.mp4", 10, 100, 0.9, "shark", 1), ",") + "\n" +
		"garbage,row\n"
	require.NoError(t, os.WriteFile(artifact.CSVPath(root, "a.mp4"), []byte(content), 0o644))

	res, err := (&Engine{OutputRoot: root}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.BadRows)
	assert.Len(t, res.Records, 1)
}

func TestRun_BadHeaderExcludesArtifact(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "good.mp4", det("good.mp4", 1, 100, 0.9, "shark", 1))
	require.NoError(t, os.MkdirAll(artifact.Dir(root, "bad.mp4"), 0o755))
	require.NoError(t, os.WriteFile(artifact.CSVPath(root, "bad.mp4"), []byte("not,a,detection,file\n"), 0o644))

	res, err := (&Engine{OutputRoot: root}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Artifacts)
	assert.Len(t, res.Records, 1)
}

func TestRun_UnreadableRootFatal(t *testing.T) {
	e := &Engine{OutputRoot: filepath.Join(t.TempDir(), "missing")}
	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsolidationIO)
}

func TestRun_MetadataJoin(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "trip1/a.mp4", det("trip1/a.mp4", 10, 100, 0.9, "shark", 1))
	writeArtifact(t, root, "trip1/b.mp4", det("trip1/b.mp4", 10, 100, 0.9, "ray", 1))

	meta := filepath.Join(t.TempDir(), "metadata.csv")
	require.NoError(t, os.WriteFile(meta, []byte(
		"FileName,Site,Trip,Temp,Depth\n"+
			"A.MP4,reef-07,exp2024,21.5,12\n",
	), 0o644))

	res, err := (&Engine{OutputRoot: root, MetadataPath: meta}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	a := res.Records[0]
	assert.Equal(t, "reef-07", a.Meta.Station)
	assert.Equal(t, "exp2024", a.Meta.Collection)
	require.NotNil(t, a.Meta.TemperatureC)
	assert.Equal(t, 21.5, *a.Meta.TemperatureC)
	require.NotNil(t, a.Meta.DepthM)
	assert.Equal(t, 12.0, *a.Meta.DepthM)
	assert.Nil(t, a.Meta.VisibilityM)

	// b.mp4 has no metadata row and falls back to its directory.
	assert.Equal(t, "trip1", res.Records[1].Meta.Station)
	require.Len(t, res.Summaries, 2)
	assert.Equal(t, "reef-07", res.Summaries[0].Station)
	assert.Equal(t, "trip1", res.Summaries[1].Station)
}

func TestLoadStations(t *testing.T) {
	t.Run("missing file is empty map", func(t *testing.T) {
		m, err := LoadStations(filepath.Join(t.TempDir(), "metadata.csv"))
		require.NoError(t, err)
		assert.Empty(t, m)
	})

	t.Run("no filename column is an error", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "metadata.csv")
		require.NoError(t, os.WriteFile(p, []byte("site,depth\nreef,10\n"), 0o644))
		_, err := LoadStations(p)
		require.Error(t, err)
	})

	t.Run("keys normalized", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "metadata.csv")
		require.NoError(t, os.WriteFile(p, []byte("video name,station\n GOPRO_001.MP4 ,reef\n"), 0o644))
		m, err := LoadStations(p)
		require.NoError(t, err)
		require.Contains(t, m, "gopro_001")
		assert.Equal(t, "reef", m["gopro_001"].Station)
	})
}

func TestWriters_ByteStable(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "trip1/a.mp4",
		det("trip1/a.mp4", 20, 100, 0.9, "shark", 1),
		det("trip1/a.mp4", 20, 400, 0.8, "ray", 2),
	)
	e := &Engine{OutputRoot: root}

	render := func(dir string) (string, string, string) {
		res, err := e.Run(context.Background())
		require.NoError(t, err)
		master := filepath.Join(dir, "output.csv")
		maxn := filepath.Join(dir, "maxn.csv")
		summary := filepath.Join(dir, "summary.md")
		require.NoError(t, WriteMaster(master, res))
		require.NoError(t, WriteMaxN(maxn, res))
		require.NoError(t, WriteSummary(summary, res))
		return readFile(t, master), readFile(t, maxn), readFile(t, summary)
	}

	m1, x1, s1 := render(t.TempDir())
	m2, x2, s2 := render(t.TempDir())
	assert.Equal(t, m1, m2)
	assert.Equal(t, x1, x2)
	assert.Equal(t, s1, s2)

	assert.True(t, strings.HasPrefix(m1, strings.Join(masterColumns, ",")+"\n"))
	assert.Contains(t, x1, "trip1,ray,1,2,2,trip1/a.mp4")
	assert.Contains(t, s1, "- Tracks: 2")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
