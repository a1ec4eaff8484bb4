package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "video_path,video_name,frame,time,xmin,ymin,xmax,ymax,w,h,confidence,label,track_id"

func writeArtifact(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	content := strings.Join(append([]string{header}, lines...), "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDir(t *testing.T) {
	got := Dir("/out", "trip1/station_a/GP010042.MP4")
	want := filepath.Join("/out", "trip1/station_a", "GP010042")
	if got != want {
		t.Errorf("Dir() = %q, want %q", got, want)
	}
}

func TestParseFile(t *testing.T) {
	path := writeArtifact(t,
		"trip1/v.mp4,v.mp4,10,0.400,100.5,50.2,200.1,150.9,1920,1080,0.91,elasmobranch,3",
		"trip1/v.mp4,v.mp4,11,0.440,101.0,51.0,201.0,151.0,1920,1080,0.88,elasmobranch,3",
	)

	res, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Zero(t, res.BadRows)

	r := res.Rows[0]
	assert.Equal(t, "trip1/v.mp4", r.VideoID)
	assert.Equal(t, 10, r.Frame)
	assert.Equal(t, 0.91, r.Confidence)
	assert.Equal(t, "elasmobranch", r.Label)
	assert.Equal(t, 3, r.TrackID)
	assert.Equal(t, 1920, r.FrameW)
}

func TestParseFile_RecoversMalformedRows(t *testing.T) {
	path := writeArtifact(t,
		"trip1/v.mp4,v.mp4,10,0.4,1,2,3,4,1920,1080,0.9,elasmobranch,1",
		"trip1/v.mp4,v.mp4,NOT_A_FRAME,0.4,1,2,3,4,1920,1080,0.9,elasmobranch,1",
		"truncated,row",
		"trip1/v.mp4,v.mp4,12,0.5,1,2,3,4,1920,1080,0.7,elasmobranch,1",
	)

	res, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.Equal(t, 2, res.BadRows)
	assert.Len(t, res.RowErrors, 2)
}

func TestParseFile_BadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("frame,conf\n1,0.5\n"), 0o644))

	_, err := ParseFile(path)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestValid(t *testing.T) {
	t.Run("clean artifact", func(t *testing.T) {
		path := writeArtifact(t,
			"trip1/v.mp4,v.mp4,10,0.4,1,2,3,4,1920,1080,0.9,elasmobranch,1")
		assert.True(t, Valid(path))
	})

	t.Run("empty artifact means no detections", func(t *testing.T) {
		path := writeArtifact(t)
		assert.True(t, Valid(path))
	})

	t.Run("truncated artifact is not trusted", func(t *testing.T) {
		path := writeArtifact(t,
			"trip1/v.mp4,v.mp4,10,0.4,1,2,3,4,1920,1080,0.9,elasmo")
		assert.False(t, Valid(path))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.False(t, Valid(filepath.Join(t.TempDir(), FileName)))
	})
}
