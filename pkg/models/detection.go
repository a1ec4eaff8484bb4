package models

// DetectionRow is one raw detection emitted by the detector subprocess for
// one video. Rows are immutable once written to a per-video artifact.
type DetectionRow struct {
	VideoID    string  // input-root-relative video path
	VideoName  string  // base filename, kept for analyst-facing outputs
	Frame      int
	TimeSec    float64
	XMin       float64
	YMin       float64
	XMax       float64
	YMax       float64
	FrameW     int
	FrameH     int
	Confidence float64
	Label      string
	TrackID    int // per-video track id from the tracker, not globally unique
}

// DedupKey identifies redundant-reprocessing duplicates: an animal cannot
// produce two detections with bit-identical geometry and confidence in one
// frame, so an exact match on this tuple is evidence of a repeated run.
type DedupKey struct {
	VideoID    string
	Frame      int
	XMin       float64
	YMin       float64
	XMax       float64
	YMax       float64
	Confidence float64
}

// Key returns the row's deduplication key.
func (r DetectionRow) Key() DedupKey {
	return DedupKey{
		VideoID:    r.VideoID,
		Frame:      r.Frame,
		XMin:       r.XMin,
		YMin:       r.YMin,
		XMax:       r.XMax,
		YMax:       r.YMax,
		Confidence: r.Confidence,
	}
}

// Track is a contiguous run of detections believed to be one individual
// within one video.
type Track struct {
	VideoID    string
	RawTrackID int
	GlobalID   int // assigned by consolidation, contiguous from 0
	FirstFrame int
	LastFrame  int
	Frames     []int
	Label      string
	MaxConf    float64
}
