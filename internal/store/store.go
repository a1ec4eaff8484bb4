// Package store persists the consolidated dataset to an embedded database
// next to the CSV outputs, for teams that query results with SQL rather
// than spreadsheets. The database is derived state: every consolidation
// pass rebuilds it from scratch, mirroring the full-recompute rule for the
// CSV outputs.
package store

import (
	"context"

	"github.com/reefwatch/bruvbatch/internal/consolidate"
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	SaveConsolidation(ctx context.Context, res *consolidate.Result) error
	Close() error
}
