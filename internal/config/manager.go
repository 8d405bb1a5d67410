package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Environment variables: HOSTPULSE_DETECTOR_CONTAMINATION etc.
	m.viper.SetEnvPrefix("HOSTPULSE")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional; defaults + env vars are a complete source.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No file, use defaults
		} else if os.IsNotExist(err) {
			// No file, use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		// Reject a reload that fails validation; the running config stands.
		if errs := m.config.Validate(); len(errs) > 0 {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Sampler defaults
	m.viper.SetDefault("sampler.period_seconds", defaults.Sampler.PeriodSeconds)

	// Detector defaults
	m.viper.SetDefault("detector.contamination", defaults.Detector.Contamination)
	m.viper.SetDefault("detector.training_window_seconds", defaults.Detector.TrainingWindowSeconds)
	m.viper.SetDefault("detector.window_size_seconds", defaults.Detector.WindowSizeSeconds)
	m.viper.SetDefault("detector.retrain_interval_seconds", defaults.Detector.RetrainIntervalSeconds)
	m.viper.SetDefault("detector.min_training_samples", defaults.Detector.MinTrainingSamples)
	m.viper.SetDefault("detector.trees", defaults.Detector.Trees)
	m.viper.SetDefault("detector.subsample_size", defaults.Detector.SubsampleSize)
	m.viper.SetDefault("detector.seed", defaults.Detector.Seed)

	// Store defaults
	m.viper.SetDefault("store.samples_buffer_size", defaults.Store.SamplesBufferSize)
	m.viper.SetDefault("store.anomalies_buffer_size", defaults.Store.AnomaliesBufferSize)

	// History defaults
	m.viper.SetDefault("history.samples_log_path", defaults.History.SamplesLogPath)
	m.viper.SetDefault("history.anomalies_log_path", defaults.History.AnomaliesLogPath)

	// Replay defaults
	m.viper.SetDefault("replay.input_path", defaults.Replay.InputPath)
	m.viper.SetDefault("replay.output_path", defaults.Replay.OutputPath)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Engine defaults
	m.viper.SetDefault("engine.shutdown_timeout_seconds", defaults.Engine.ShutdownTimeoutSeconds)
	m.viper.SetDefault("engine.persist_failure_limit", defaults.Engine.PersistFailureLimit)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Sampler
	cfg.Sampler.PeriodSeconds = m.viper.GetInt("sampler.period_seconds")

	// Detector
	cfg.Detector.Contamination = m.viper.GetFloat64("detector.contamination")
	cfg.Detector.TrainingWindowSeconds = m.viper.GetInt("detector.training_window_seconds")
	cfg.Detector.WindowSizeSeconds = m.viper.GetInt("detector.window_size_seconds")
	cfg.Detector.RetrainIntervalSeconds = m.viper.GetInt("detector.retrain_interval_seconds")
	cfg.Detector.MinTrainingSamples = m.viper.GetInt("detector.min_training_samples")
	cfg.Detector.Trees = m.viper.GetInt("detector.trees")
	cfg.Detector.SubsampleSize = m.viper.GetInt("detector.subsample_size")
	cfg.Detector.Seed = m.viper.GetInt64("detector.seed")

	// Store
	cfg.Store.SamplesBufferSize = m.viper.GetInt("store.samples_buffer_size")
	cfg.Store.AnomaliesBufferSize = m.viper.GetInt("store.anomalies_buffer_size")

	// History
	cfg.History.SamplesLogPath = m.viper.GetString("history.samples_log_path")
	cfg.History.AnomaliesLogPath = m.viper.GetString("history.anomalies_log_path")

	// Replay
	cfg.Replay.InputPath = m.viper.GetString("replay.input_path")
	cfg.Replay.OutputPath = m.viper.GetString("replay.output_path")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	// Engine
	cfg.Engine.ShutdownTimeoutSeconds = m.viper.GetInt("engine.shutdown_timeout_seconds")
	cfg.Engine.PersistFailureLimit = m.viper.GetInt("engine.persist_failure_limit")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies short-form environment overrides.
func (m *viperManager) applyEnvOverrides() {
	// Replay paths are commonly passed as bare env vars in one-shot runs.
	if in := os.Getenv("HOSTPULSE_REPLAY_INPUT"); in != "" {
		m.config.Replay.InputPath = in
	}

	if out := os.Getenv("HOSTPULSE_REPLAY_OUTPUT"); out != "" {
		m.config.Replay.OutputPath = out
	}

	if port := os.Getenv("HOSTPULSE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			m.config.Server.Port = p
		}
	}
}
