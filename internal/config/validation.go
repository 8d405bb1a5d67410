package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	// Validate sampler configuration
	if c.Sampler.PeriodSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "sampler.period_seconds",
			Message: fmt.Sprintf("period must be at least 1 second, got %d", c.Sampler.PeriodSeconds),
		})
	}

	// Validate detector configuration. Contamination is half-open: 0 is
	// rejected, 0.5 is accepted.
	if c.Detector.Contamination <= 0 || c.Detector.Contamination > 0.5 {
		errs = append(errs, &ValidationError{
			Field:   "detector.contamination",
			Message: fmt.Sprintf("contamination must be in (0, 0.5], got %g", c.Detector.Contamination),
		})
	}

	if c.Detector.TrainingWindowSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detector.training_window_seconds",
			Message: fmt.Sprintf("training window must be at least 1 second, got %d", c.Detector.TrainingWindowSeconds),
		})
	}

	if c.Detector.WindowSizeSeconds < c.Detector.TrainingWindowSeconds {
		errs = append(errs, &ValidationError{
			Field:   "detector.window_size_seconds",
			Message: fmt.Sprintf("window size (%d s) cannot be shorter than the training window (%d s)",
				c.Detector.WindowSizeSeconds, c.Detector.TrainingWindowSeconds),
		})
	}

	if c.Detector.RetrainIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detector.retrain_interval_seconds",
			Message: fmt.Sprintf("retrain interval must be at least 1 second, got %d", c.Detector.RetrainIntervalSeconds),
		})
	}

	if c.Detector.MinTrainingSamples < 0 {
		errs = append(errs, &ValidationError{
			Field:   "detector.min_training_samples",
			Message: fmt.Sprintf("min_training_samples cannot be negative, got %d", c.Detector.MinTrainingSamples),
		})
	}

	if c.Detector.Trees < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detector.trees",
			Message: fmt.Sprintf("forest needs at least 1 tree, got %d", c.Detector.Trees),
		})
	}

	if c.Detector.SubsampleSize < 0 {
		errs = append(errs, &ValidationError{
			Field:   "detector.subsample_size",
			Message: fmt.Sprintf("subsample_size cannot be negative, got %d", c.Detector.SubsampleSize),
		})
	}

	// Validate store configuration
	if c.Store.SamplesBufferSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "store.samples_buffer_size",
			Message: fmt.Sprintf("samples buffer must hold at least 1 sample, got %d", c.Store.SamplesBufferSize),
		})
	}

	if c.Store.AnomaliesBufferSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "store.anomalies_buffer_size",
			Message: fmt.Sprintf("anomalies buffer must hold at least 1 record, got %d", c.Store.AnomaliesBufferSize),
		})
	}

	// Validate history configuration
	if c.History.SamplesLogPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "history.samples_log_path",
			Message: "samples log path is required",
		})
	}

	if c.History.AnomaliesLogPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "history.anomalies_log_path",
			Message: "anomalies log path is required",
		})
	}

	// Validate replay configuration
	if c.Replay.OutputPath != "" && c.Replay.InputPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "replay.output_path",
			Message: "output_path requires input_path to be set",
		})
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	if c.Logging.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1, got %d", c.Logging.MaxSizeMB),
		})
	}

	// Validate engine configuration
	if c.Engine.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.shutdown_timeout_seconds",
			Message: fmt.Sprintf("shutdown timeout must be at least 1 second, got %d", c.Engine.ShutdownTimeoutSeconds),
		})
	}

	if c.Engine.PersistFailureLimit < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.persist_failure_limit",
			Message: fmt.Sprintf("persist_failure_limit must be at least 1, got %d", c.Engine.PersistFailureLimit),
		})
	}

	return errs
}
