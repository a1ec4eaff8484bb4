// Package main is the entrypoint for the bruvbatch orchestrator. The `run`
// subcommand processes a batch of BRUV videos through the external detector
// and consolidates the results; `consolidate` re-runs consolidation alone
// over whatever artifacts already exist.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/reefwatch/bruvbatch/internal/api"
	"github.com/reefwatch/bruvbatch/internal/config"
	"github.com/reefwatch/bruvbatch/internal/consolidate"
	"github.com/reefwatch/bruvbatch/internal/dispatch"
	"github.com/reefwatch/bruvbatch/internal/inventory"
	"github.com/reefwatch/bruvbatch/internal/progress"
	"github.com/reefwatch/bruvbatch/internal/resource"
	"github.com/reefwatch/bruvbatch/internal/stability"
	"github.com/reefwatch/bruvbatch/internal/store"
	"github.com/reefwatch/bruvbatch/pkg/models"
)

const statusShutdownTimeout = 5 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	sub := "run"
	if len(os.Args) > 1 {
		sub = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch sub {
	case "run":
		err = run(ctx)
	case "consolidate":
		err = consolidateOnly(ctx)
	default:
		err = fmt.Errorf("unknown subcommand %q (want run or consolidate)", sub)
	}
	if err != nil {
		slog.Error("bruvbatch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	runID := uuid.New().String()
	slog.Info("config loaded",
		"run_id", runID,
		"input_root", cfg.Paths.InputRoot,
		"output_root", cfg.Paths.OutputRoot)

	// 2. Size the worker pool
	workers := resource.Plan(cfg.Pool)
	slog.Info("worker pool planned", "workers", workers)

	// 3. Scan the input tree; prior valid artifacts come back Skipped
	scanner := &inventory.Scanner{
		InputRoot:  cfg.Paths.InputRoot,
		OutputRoot: cfg.Paths.OutputRoot,
		Prober:     inventory.FFProbe{Bin: cfg.Paths.FFprobeBin},
	}
	tasks, err := scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan input root: %w", err)
	}
	registry := dispatch.NewRegistry(tasks)
	counts := registry.Counts()
	slog.Info("inventory scanned",
		"videos", counts.Total(),
		"pending", counts.Pending,
		"skipped", counts.Skipped)

	// 4. Build the orchestrator with the stability pre-pass
	motion := stability.FrameDiff{SampleEverySec: cfg.Stability.SampleEverySec}
	opts := stability.Options{
		Threshold:  cfg.Stability.Threshold,
		Hysteresis: cfg.Stability.Hysteresis,
	}
	orch := &dispatch.Orchestrator{
		Registry: registry,
		Runner:   dispatch.ExecRunner{Bin: cfg.Paths.DetectorBin},
		Timeout: dispatch.TimeoutPolicy{
			SampleFPS:       cfg.Timeout.SampleFPS,
			SecondsPerFrame: cfg.Timeout.SecondsPerFrame,
			SafetyMargin:    cfg.Timeout.SafetyMargin,
			Floor:           cfg.Timeout.Floor,
		},
		Retry: dispatch.DefaultRetryPolicy,
		Window: func(ctx context.Context, task models.VideoTask) (models.StabilityWindow, error) {
			scores, err := motion.Scores(ctx, task.Path)
			if err != nil {
				return models.StabilityWindow{}, err
			}
			w := stability.Detect(scores, opts)
			return stability.Seconds(w, cfg.Stability.SampleEverySec, task.DurationSec), nil
		},
		OutputRoot: cfg.Paths.OutputRoot,
	}

	// 5. Progress reporter and optional status endpoint
	reporter := progress.NewReporter(registry, cfg.Progress.Interval)
	go reporter.Run(ctx)

	if cfg.Progress.StatusPort > 0 {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Progress.StatusPort),
			Handler: api.NewRouter(reporter.Snapshot),
		}
		go func() {
			slog.Info("status endpoint listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	// 6. Drive the batch to completion (or cancellation)
	final := orch.Run(ctx, workers)
	slog.Info("batch finished",
		"run_id", runID,
		"done", final.Done,
		"failed", final.Failed,
		"skipped", final.Skipped,
		"pending", final.Pending)

	if ctx.Err() != nil {
		return fmt.Errorf("batch interrupted, %d videos left for resume: %w",
			final.Pending+final.Failed, ctx.Err())
	}

	// 7. Consolidate whatever the batch produced, including artifacts from
	// earlier runs. Uses a fresh context: a Ctrl-C during the batch should
	// not also abandon a consolidation the user asked for next.
	return consolidatePass(context.Background(), cfg)
}

func consolidateOnly(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return consolidatePass(ctx, cfg)
}

func consolidatePass(ctx context.Context, cfg *config.Config) error {
	engine := &consolidate.Engine{
		OutputRoot:   cfg.Paths.OutputRoot,
		MetadataPath: cfg.Paths.MetadataPath,
	}
	res, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}

	masterPath := filepath.Join(cfg.Paths.OutputRoot, "output.csv")
	if err := consolidate.WriteMaster(masterPath, res); err != nil {
		return err
	}
	if err := consolidate.WriteMaxN(filepath.Join(cfg.Paths.OutputRoot, "maxn.csv"), res); err != nil {
		return err
	}
	if err := consolidate.WriteSummary(filepath.Join(cfg.Paths.OutputRoot, "summary.md"), res); err != nil {
		return err
	}

	if cfg.Paths.DBPath != "" {
		s, err := store.NewSQLiteStore(cfg.Paths.DBPath)
		if err != nil {
			return fmt.Errorf("open results store: %w", err)
		}
		defer s.Close()
		if err := s.SaveConsolidation(ctx, res); err != nil {
			return fmt.Errorf("save results: %w", err)
		}
		slog.Info("results store updated", "path", cfg.Paths.DBPath)
	}

	slog.Info("consolidation complete",
		"artifacts", res.Artifacts,
		"detections", len(res.Records),
		"duplicates_removed", res.Duplicates,
		"tracks", len(res.Tracks),
		"stations", len(res.Summaries),
		"master", masterPath)
	return nil
}
