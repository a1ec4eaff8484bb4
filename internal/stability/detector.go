// Package stability finds the sub-interval of a BRUV video worth analyzing
// by excluding the camera-deployment descent and retrieval ascent, when
// motion is high and detections are meaningless (surface glare, handlers,
// boat hull).
package stability

import "github.com/reefwatch/bruvbatch/pkg/models"

// Options tunes the thresholding state machine. The motion signal feeding
// it is a separate concern (see MotionSource).
type Options struct {
	// Threshold on the [0,1] motion-score scale. A score at or exactly on
	// the threshold counts as unstable: conservative skip.
	Threshold float64
	// Hysteresis is the minimum run length of consecutive samples required
	// before the machine flips state, so a momentary current or a swimming
	// animal does not flap the boundary.
	Hysteresis int
}

// Window is a stable region in sample indices, inclusive on both ends.
// Full means no qualifying stable run was found and the whole video should
// be analyzed; a video is never silently discarded.
type Window struct {
	StartIdx int
	EndIdx   int
	Full     bool
}

// Detect runs the two-state machine over a motion-score sequence and
// returns the contiguous region bounded by the first and last stable run.
func Detect(scores []float64, opts Options) Window {
	hyst := opts.Hysteresis
	if hyst < 1 {
		hyst = 1
	}

	first, last := -1, -1
	runStart := -1
	for i, s := range scores {
		stable := s < opts.Threshold
		if stable && runStart < 0 {
			runStart = i
		}
		if (!stable || i == len(scores)-1) && runStart >= 0 {
			runEnd := i - 1
			if stable {
				runEnd = i
			}
			if runEnd-runStart+1 >= hyst {
				if first < 0 {
					first = runStart
				}
				last = runEnd
			}
			runStart = -1
		}
	}

	if first < 0 {
		return Window{StartIdx: 0, EndIdx: max(len(scores)-1, 0), Full: true}
	}
	return Window{StartIdx: first, EndIdx: last}
}

// Seconds converts a sample-index window into a time window for the
// detector subprocess. sampleEverySec is the motion-sampling interval;
// durationSec bounds the result.
func Seconds(w Window, sampleEverySec, durationSec float64) models.StabilityWindow {
	if w.Full || sampleEverySec <= 0 {
		return models.StabilityWindow{StartSec: 0, EndSec: durationSec}
	}
	start := float64(w.StartIdx) * sampleEverySec
	end := float64(w.EndIdx+1) * sampleEverySec
	if end > durationSec {
		end = durationSec
	}
	return models.StabilityWindow{StartSec: start, EndSec: end}
}
