package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for a bruvbatch run.
type Config struct {
	Paths     PathsConfig
	Pool      PoolConfig
	Stability StabilityConfig
	Timeout   TimeoutConfig
	Progress  ProgressConfig
}

type PathsConfig struct {
	InputRoot  string
	OutputRoot string
	// MetadataPath is the optional station metadata CSV. Defaults to
	// metadata.csv under the input root; absence is not an error.
	MetadataPath string
	// DBPath is the optional sqlite results database. Empty disables the
	// store entirely.
	DBPath      string
	DetectorBin string
	FFprobeBin  string
}

type PoolConfig struct {
	// Workers overrides the resource planner when > 0.
	Workers         int
	ReservedCores   int
	CoresPerTask    int
	MemoryPerTaskMB int
}

type StabilityConfig struct {
	// Threshold on the [0,1] motion-score scale. Scores at or above it are
	// unstable. Tunable per camera rig; no single value fits all.
	Threshold float64
	// Hysteresis is the run length required before the state machine flips.
	Hysteresis int
	// SampleEverySec controls how often the motion source samples frames.
	SampleEverySec float64
}

type TimeoutConfig struct {
	// SampleFPS is how many frames per video-second the detector analyzes.
	SampleFPS float64
	// SecondsPerFrame is the pessimistic per-frame processing cost.
	SecondsPerFrame float64
	SafetyMargin    float64
	// Floor keeps very short clips from getting an unreasonably small budget.
	Floor time.Duration
}

type ProgressConfig struct {
	Interval time.Duration
	// StatusPort serves the live status endpoint; 0 disables it.
	StatusPort int
}

// Load reads configuration from environment variables (with an optional
// .env file) and returns a validated Config.
func Load() (*Config, error) {
	// .env is a convenience for field laptops; a missing file is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Paths: PathsConfig{
			InputRoot:    os.Getenv("BRUVBATCH_INPUT_ROOT"),
			OutputRoot:   os.Getenv("BRUVBATCH_OUTPUT_ROOT"),
			MetadataPath: os.Getenv("BRUVBATCH_METADATA_PATH"),
			DBPath:       os.Getenv("BRUVBATCH_DB_PATH"),
			DetectorBin:  envString("BRUVBATCH_DETECTOR_BIN", "sharkdetect"),
			FFprobeBin:   envString("BRUVBATCH_FFPROBE_BIN", "ffprobe"),
		},
		Pool: PoolConfig{
			Workers:         envInt("BRUVBATCH_WORKERS", 0),
			ReservedCores:   envInt("BRUVBATCH_RESERVED_CORES", 2),
			CoresPerTask:    envInt("BRUVBATCH_CORES_PER_TASK", 2),
			MemoryPerTaskMB: envInt("BRUVBATCH_MEMORY_PER_TASK_MB", 2048),
		},
		Stability: StabilityConfig{
			Threshold:      envFloat("BRUVBATCH_STABILITY_THRESHOLD", 0.15),
			Hysteresis:     envInt("BRUVBATCH_STABILITY_HYSTERESIS", 3),
			SampleEverySec: envFloat("BRUVBATCH_STABILITY_SAMPLE_SEC", 1.0),
		},
		Timeout: TimeoutConfig{
			SampleFPS:       envFloat("BRUVBATCH_SAMPLE_FPS", 5.0),
			SecondsPerFrame: envFloat("BRUVBATCH_SECONDS_PER_FRAME", 0.5),
			SafetyMargin:    envFloat("BRUVBATCH_SAFETY_MARGIN", 2.0),
			Floor:           envDuration("BRUVBATCH_TIMEOUT_FLOOR", 2*time.Minute),
		},
		Progress: ProgressConfig{
			Interval:   envDuration("BRUVBATCH_PROGRESS_INTERVAL", 5*time.Second),
			StatusPort: envInt("BRUVBATCH_STATUS_PORT", 0),
		},
	}

	if cfg.Paths.MetadataPath == "" && cfg.Paths.InputRoot != "" {
		cfg.Paths.MetadataPath = filepath.Join(cfg.Paths.InputRoot, "metadata.csv")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Paths.InputRoot == "" {
		return fmt.Errorf("BRUVBATCH_INPUT_ROOT is required")
	}
	if c.Paths.OutputRoot == "" {
		return fmt.Errorf("BRUVBATCH_OUTPUT_ROOT is required")
	}
	if c.Stability.Threshold <= 0 || c.Stability.Threshold >= 1 {
		return fmt.Errorf("BRUVBATCH_STABILITY_THRESHOLD must be in (0,1), got %v", c.Stability.Threshold)
	}
	if c.Stability.Hysteresis < 1 {
		return fmt.Errorf("BRUVBATCH_STABILITY_HYSTERESIS must be >= 1, got %d", c.Stability.Hysteresis)
	}
	if c.Pool.CoresPerTask < 1 {
		return fmt.Errorf("BRUVBATCH_CORES_PER_TASK must be >= 1, got %d", c.Pool.CoresPerTask)
	}
	if c.Timeout.SafetyMargin < 1 {
		return fmt.Errorf("BRUVBATCH_SAFETY_MARGIN must be >= 1, got %v", c.Timeout.SafetyMargin)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
