package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/reefwatch/bruvbatch/internal/consolidate"
)

// SQLiteStore implements the Store interface on an embedded sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
DROP TABLE IF EXISTS detections;
DROP TABLE IF EXISTS station_maxn;

CREATE TABLE detections (
	id            INTEGER PRIMARY KEY,
	video_path    TEXT    NOT NULL,
	video_name    TEXT    NOT NULL,
	frame         INTEGER NOT NULL,
	time_sec      REAL    NOT NULL,
	xmin          REAL    NOT NULL,
	ymin          REAL    NOT NULL,
	xmax          REAL    NOT NULL,
	ymax          REAL    NOT NULL,
	w             INTEGER NOT NULL,
	h             INTEGER NOT NULL,
	confidence    REAL    NOT NULL,
	label         TEXT    NOT NULL,
	track_id      INTEGER NOT NULL,
	station       TEXT    NOT NULL,
	collection    TEXT    NOT NULL,
	temperature_c REAL,
	depth_m       REAL,
	visibility_m  REAL
);

CREATE TABLE station_maxn (
	station          TEXT    NOT NULL,
	label            TEXT    NOT NULL,
	maxn             INTEGER NOT NULL,
	tracks           INTEGER NOT NULL,
	species_richness INTEGER NOT NULL,
	videos           TEXT    NOT NULL,
	PRIMARY KEY (station, label)
);

CREATE INDEX idx_detections_station ON detections (station);
CREATE INDEX idx_detections_track ON detections (track_id);
`

// NewSQLiteStore opens (or creates) the database file and enables WAL mode.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveConsolidation replaces the whole database contents with the given
// result in one transaction, so readers never observe a half-written pass.
func (s *SQLiteStore) SaveConsolidation(ctx context.Context, res *consolidate.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("rebuild schema: %w", err)
	}

	insDet, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (
			video_path, video_name, frame, time_sec,
			xmin, ymin, xmax, ymax, w, h,
			confidence, label, track_id,
			station, collection, temperature_c, depth_m, visibility_m
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare detections insert: %w", err)
	}
	defer insDet.Close()

	for _, rec := range res.Records {
		_, err := insDet.ExecContext(ctx,
			rec.VideoID, rec.VideoName, rec.Frame, rec.TimeSec,
			rec.XMin, rec.YMin, rec.XMax, rec.YMax, rec.FrameW, rec.FrameH,
			rec.Confidence, rec.Label, rec.GlobalTrackID,
			rec.Meta.Station, rec.Meta.Collection,
			rec.Meta.TemperatureC, rec.Meta.DepthM, rec.Meta.VisibilityM,
		)
		if err != nil {
			return fmt.Errorf("insert detection: %w", err)
		}
	}

	insMaxN, err := tx.PrepareContext(ctx, `
		INSERT INTO station_maxn (station, label, maxn, tracks, species_richness, videos)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare maxn insert: %w", err)
	}
	defer insMaxN.Close()

	for _, sum := range res.Summaries {
		labels := make([]string, 0, len(sum.MaxNByLabel))
		for l := range sum.MaxNByLabel {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, label := range labels {
			_, err := insMaxN.ExecContext(ctx,
				sum.Station, label, sum.MaxNByLabel[label],
				sum.TrackCount, sum.SpeciesRichness,
				strings.Join(sum.VideoIDs, ";"),
			)
			if err != nil {
				return fmt.Errorf("insert station maxn: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consolidation: %w", err)
	}
	return nil
}
