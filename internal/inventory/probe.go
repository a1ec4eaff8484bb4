package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// VideoMeta is the subset of container metadata the scheduler needs.
type VideoMeta struct {
	DurationSec float64
	FPS         float64
}

// Prober inspects a video's container metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (VideoMeta, error)
}

// FFProbe probes via the ffprobe binary.
type FFProbe struct {
	Bin string
}

type ffprobeOutput struct {
	Streams []struct {
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p FFProbe) Probe(ctx context.Context, path string) (VideoMeta, error) {
	bin := p.Bin
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return VideoMeta{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return VideoMeta{}, fmt.Errorf("ffprobe output for %s: %w", path, err)
	}

	var meta VideoMeta
	meta.DurationSec, err = strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return VideoMeta{}, fmt.Errorf("ffprobe duration %q for %s: %w", parsed.Format.Duration, path, err)
	}
	if len(parsed.Streams) > 0 {
		meta.FPS = parseFrameRate(parsed.Streams[0].AvgFrameRate)
	}
	return meta, nil
}

// parseFrameRate handles ffprobe's fractional rates like "30000/1001".
// Unparseable rates come back as 0; FPS is advisory, duration is not.
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
