package stability

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// MotionSource produces the per-sample motion-score series for a video.
// It is an interface so the state machine stays testable with synthetic
// sequences and the signal stays swappable per camera rig.
type MotionSource interface {
	Scores(ctx context.Context, path string) ([]float64, error)
}

// FrameDiff scores motion from frame-to-frame pixel difference. Frames are
// grayscaled and shrunk before differencing; the score blends the fraction
// of changed pixels with the mean and peak change magnitude.
type FrameDiff struct {
	// SampleEverySec is the sampling interval; <= 0 means every second.
	SampleEverySec float64
}

const (
	diffWidth     = 320
	diffHeight    = 180
	pixelDeltaMin = 25 // grayscale delta below this is sensor noise
)

func (f FrameDiff) Scores(ctx context.Context, path string) ([]float64, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	defer vc.Close()

	fps := vc.Get(gocv.VideoCaptureFPS)
	totalFrames := int(vc.Get(gocv.VideoCaptureFrameCount))
	if fps <= 0 || totalFrames <= 0 {
		return nil, fmt.Errorf("video %s: unreadable fps/frame count", path)
	}

	sample := f.SampleEverySec
	if sample <= 0 {
		sample = 1.0
	}
	step := int(fps * sample)
	if step < 1 {
		step = 1
	}

	frame := gocv.NewMat()
	defer frame.Close()
	prev := gocv.NewMat()
	defer prev.Close()

	var scores []float64
	for idx := 0; idx < totalFrames; idx += step {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		vc.Set(gocv.VideoCapturePosFrames, float64(idx))
		if ok := vc.Read(&frame); !ok || frame.Empty() {
			break
		}

		gray := gocv.NewMat()
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
		small := gocv.NewMat()
		gocv.Resize(gray, &small, image.Pt(diffWidth, diffHeight), 0, 0, gocv.InterpolationArea)
		gray.Close()

		if !prev.Empty() {
			scores = append(scores, diffScore(prev, small))
		}
		prev.Close()
		prev = small
	}

	return scores, nil
}

func diffScore(prev, curr gocv.Mat) float64 {
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(prev, curr, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, pixelDeltaMin, 255, gocv.ThresholdBinary)

	motionRatio := float64(gocv.CountNonZero(mask)) / float64(mask.Total())
	meanDiff := diff.Mean().Val1
	_, maxDiff, _, _ := gocv.MinMaxLoc(diff)

	return motionRatio*0.6 + meanDiff/255.0*0.3 + float64(maxDiff)/255.0*0.1
}
