// Package api serves the read-only live status of a batch run. It is an
// observer surface: nothing here writes back into orchestration, and the
// whole server can be disabled without affecting correctness.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/reefwatch/bruvbatch/internal/api/middleware"
	"github.com/reefwatch/bruvbatch/internal/api/response"
	"github.com/reefwatch/bruvbatch/internal/progress"
)

// SnapshotFunc supplies the current batch status.
type SnapshotFunc func() progress.Status

// NewRouter builds the chi router for the status endpoint.
func NewRouter(snapshot SnapshotFunc) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, snapshot())
	})

	return r
}
