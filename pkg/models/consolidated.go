package models

// StationMeta is per-video deployment metadata joined from the optional
// metadata.csv at the input root. Zero value means "no metadata".
type StationMeta struct {
	Station      string
	Collection   string
	TemperatureC *float64
	DepthM       *float64
	VisibilityM  *float64
}

// ConsolidatedRecord is a DetectionRow promoted into the master dataset:
// deduplicated, carrying a globally unique track id and joined station
// metadata where available.
type ConsolidatedRecord struct {
	DetectionRow
	GlobalTrackID int
	Meta          StationMeta
}

// StationSummary is the derived per-station aggregate. It is recomputed in
// full on every consolidation pass, never updated incrementally.
type StationSummary struct {
	Station         string
	MaxNByLabel     map[string]int
	TrackCount      int
	SpeciesRichness int
	VideoIDs        []string
}
