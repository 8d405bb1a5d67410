package config

import "context"

// Package config provides configuration management for the hostpulse engine.
//
// Responsibilities:
//   - Load configuration from a YAML file and environment variables
//   - Validate configuration on startup (invalid config refuses to start)
//   - Provide runtime access to all configuration
//   - Support configuration reloading for the settings that allow it
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (HOSTPULSE_* prefix)
//   2. YAML config file (path from HOSTPULSE_CONFIG, default ./hostpulse.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: HTTP listen port (default 8090)
//      - allowed_origins: CORS origins for the dashboard
//
//   2. Sampler
//      - period_seconds: tick period of the sampling loop (default 1)
//
//   3. Detector
//      - contamination: expected anomaly fraction, in (0, 0.5]
//      - training_window_seconds: cold baseline before the first fit
//      - window_size_seconds: cap on the initial fit window
//      - retrain_interval_seconds: minimum time between fits
//      - min_training_samples: fit gate; 0 derives it from the window
//      - trees, subsample_size, seed: forest shape and determinism
//
//   4. Store
//      - samples_buffer_size, anomalies_buffer_size: ring capacities
//
//   5. History
//      - samples_log_path: append-only CSV of every sample
//      - anomalies_log_path: append-only JSONL of reported anomalies
//
//   6. Replay
//      - input_path: historical CSV to replay instead of live sampling
//      - output_path: per-row analysis output CSV
//
//   7. Database
//      - sqlite_path: replay analysis history store
//
//   8. Logging
//      - level, format, file_path, rotation settings
//
//   9. Engine
//      - shutdown_timeout_seconds, persist_failure_limit

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port int
		// AllowedOrigins is the list of origins permitted by CORS and the
		// WebSocket upgrader. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Sampler configuration
	Sampler struct {
		PeriodSeconds int
	}

	// Detector configuration
	Detector struct {
		Contamination          float64
		TrainingWindowSeconds  int
		WindowSizeSeconds      int
		RetrainIntervalSeconds int
		// MinTrainingSamples gates the first fit. 0 derives it from
		// TrainingWindowSeconds at the configured sample rate.
		MinTrainingSamples int
		Trees              int
		// SubsampleSize 0 selects min(256, n) per tree.
		SubsampleSize int
		Seed          int64
	}

	// Store configuration
	Store struct {
		SamplesBufferSize   int
		AnomaliesBufferSize int
	}

	// History configuration
	History struct {
		SamplesLogPath   string
		AnomaliesLogPath string
	}

	// Replay configuration
	Replay struct {
		InputPath  string
		OutputPath string
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		FilePath   string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	// Engine configuration
	Engine struct {
		ShutdownTimeoutSeconds int
		PersistFailureLimit    int
	}
}

// ReplayEnabled reports whether the engine samples from a historical file
// instead of live OS counters.
func (c *Config) ReplayEnabled() bool {
	return c.Replay.InputPath != ""
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes and emits reloaded configs.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a new configuration manager reading the given file path.
func NewManager(configPath string) (Manager, error) {
	mgr := &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewManagerWithDefaults creates a config manager with the default file path.
func NewManagerWithDefaults() (Manager, error) {
	return NewManager("./hostpulse.yaml")
}
