package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)

	// Sampler defaults
	assert.Equal(t, 1, cfg.Sampler.PeriodSeconds)

	// Detector defaults
	assert.Equal(t, 0.05, cfg.Detector.Contamination)
	assert.Equal(t, 60, cfg.Detector.TrainingWindowSeconds)
	assert.Equal(t, 120, cfg.Detector.WindowSizeSeconds)
	assert.Equal(t, 300, cfg.Detector.RetrainIntervalSeconds)
	assert.Equal(t, 100, cfg.Detector.Trees)
	assert.Equal(t, int64(42), cfg.Detector.Seed)

	// Store defaults
	assert.Equal(t, 1000, cfg.Store.SamplesBufferSize)
	assert.Equal(t, 100, cfg.Store.AnomaliesBufferSize)

	// History defaults
	assert.Equal(t, "./logs/metrics_history.csv", cfg.History.SamplesLogPath)
	assert.Equal(t, "./logs/anomalies.jsonl", cfg.History.AnomaliesLogPath)

	// Replay disabled by default
	assert.False(t, cfg.ReplayEnabled())

	// Database defaults
	assert.NotEmpty(t, cfg.Database.SQLitePath)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Engine defaults
	assert.Equal(t, 5, cfg.Engine.ShutdownTimeoutSeconds)
	assert.Equal(t, 10, cfg.Engine.PersistFailureLimit)
}

func TestMinTrainingSamples(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.MinTrainingSamples(), "60 s window at 1 Hz")

	cfg.Sampler.PeriodSeconds = 2
	assert.Equal(t, 30, cfg.MinTrainingSamples(), "60 s window at 0.5 Hz")

	cfg.Detector.MinTrainingSamples = 25
	assert.Equal(t, 25, cfg.MinTrainingSamples(), "explicit value wins")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name: "invalid port - too low",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 0
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "invalid port - too high",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 70000
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "zero sample period",
			modifyFn: func(cfg *Config) {
				cfg.Sampler.PeriodSeconds = 0
			},
			wantError: true,
			errorMsg:  "period must be at least 1 second",
		},
		{
			name: "contamination zero rejected",
			modifyFn: func(cfg *Config) {
				cfg.Detector.Contamination = 0
			},
			wantError: true,
			errorMsg:  "contamination must be in (0, 0.5]",
		},
		{
			name: "contamination above half rejected",
			modifyFn: func(cfg *Config) {
				cfg.Detector.Contamination = 0.51
			},
			wantError: true,
			errorMsg:  "contamination must be in (0, 0.5]",
		},
		{
			name: "contamination exactly half accepted",
			modifyFn: func(cfg *Config) {
				cfg.Detector.Contamination = 0.5
			},
			wantError: false,
		},
		{
			name: "window shorter than training window",
			modifyFn: func(cfg *Config) {
				cfg.Detector.WindowSizeSeconds = 30
			},
			wantError: true,
			errorMsg:  "cannot be shorter than the training window",
		},
		{
			name: "zero retrain interval",
			modifyFn: func(cfg *Config) {
				cfg.Detector.RetrainIntervalSeconds = 0
			},
			wantError: true,
			errorMsg:  "retrain interval must be at least 1 second",
		},
		{
			name: "zero trees",
			modifyFn: func(cfg *Config) {
				cfg.Detector.Trees = 0
			},
			wantError: true,
			errorMsg:  "forest needs at least 1 tree",
		},
		{
			name: "zero samples buffer",
			modifyFn: func(cfg *Config) {
				cfg.Store.SamplesBufferSize = 0
			},
			wantError: true,
			errorMsg:  "samples buffer must hold at least 1 sample",
		},
		{
			name: "empty samples log path",
			modifyFn: func(cfg *Config) {
				cfg.History.SamplesLogPath = ""
			},
			wantError: true,
			errorMsg:  "samples log path is required",
		},
		{
			name: "replay output without input",
			modifyFn: func(cfg *Config) {
				cfg.Replay.OutputPath = "/tmp/out.csv"
			},
			wantError: true,
			errorMsg:  "output_path requires input_path",
		},
		{
			name: "missing sqlite path",
			modifyFn: func(cfg *Config) {
				cfg.Database.SQLitePath = ""
			},
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name: "invalid log level",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Level = "invalid"
			},
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name: "invalid log format",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Format = "invalid"
			},
			wantError: true,
			errorMsg:  "invalid log format",
		},
		{
			name: "zero shutdown timeout",
			modifyFn: func(cfg *Config) {
				cfg.Engine.ShutdownTimeoutSeconds = 0
			},
			wantError: true,
			errorMsg:  "shutdown timeout must be at least 1 second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if tt.wantError {
				assert.NotEmpty(t, errs, "expected validation errors but got none")
				found := false
				for _, err := range errs {
					if strings.Contains(err.Error(), tt.errorMsg) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
			} else {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
			}
		})
	}
}

func TestManagerLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090

sampler:
  period_seconds: 2

detector:
  contamination: 0.1
  training_window_seconds: 30
  window_size_seconds: 90
  retrain_interval_seconds: 120
  seed: 7

store:
  samples_buffer_size: 500

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Sampler.PeriodSeconds)
	assert.Equal(t, 0.1, cfg.Detector.Contamination)
	assert.Equal(t, 30, cfg.Detector.TrainingWindowSeconds)
	assert.Equal(t, 90, cfg.Detector.WindowSizeSeconds)
	assert.Equal(t, 120, cfg.Detector.RetrainIntervalSeconds)
	assert.Equal(t, int64(7), cfg.Detector.Seed)
	assert.Equal(t, 500, cfg.Store.SamplesBufferSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Unset keys keep their defaults
	assert.Equal(t, 100, cfg.Store.AnomaliesBufferSize)
	assert.Equal(t, 100, cfg.Detector.Trees)
}

func TestManagerEnvironmentOverrides(t *testing.T) {
	os.Setenv("HOSTPULSE_REPLAY_INPUT", "/tmp/history.csv")
	os.Setenv("HOSTPULSE_DETECTOR_CONTAMINATION", "0.2")
	defer func() {
		os.Unsetenv("HOSTPULSE_REPLAY_INPUT")
		os.Unsetenv("HOSTPULSE_DETECTOR_CONTAMINATION")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
detector:
  contamination: 0.05
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	cfg := mgr.Get(ctx)

	assert.Equal(t, 0.2, cfg.Detector.Contamination, "env var should override config file")
	assert.Equal(t, "/tmp/history.csv", cfg.Replay.InputPath, "short-form env var should set replay input")
	assert.True(t, cfg.ReplayEnabled())
}

func TestManagerMissingFile(t *testing.T) {
	mgr, err := NewManager("/tmp/nonexistent-hostpulse-config.yaml")
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	// Missing file is fine - defaults apply
	require.NoError(t, err)

	cfg := mgr.Get(ctx)
	assert.NotNil(t, cfg)
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestManagerValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 99999

detector:
  contamination: 0.9
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	err = mgr.Validate(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "contamination")
}
