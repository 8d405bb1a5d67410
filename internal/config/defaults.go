package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8090
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Sampler defaults
	cfg.Sampler.PeriodSeconds = 1

	// Detector defaults
	cfg.Detector.Contamination = 0.05
	cfg.Detector.TrainingWindowSeconds = 60
	cfg.Detector.WindowSizeSeconds = 120
	cfg.Detector.RetrainIntervalSeconds = 300
	cfg.Detector.MinTrainingSamples = 0 // derived from the training window
	cfg.Detector.Trees = 100
	cfg.Detector.SubsampleSize = 0 // auto: min(256, n)
	cfg.Detector.Seed = 42

	// Store defaults
	cfg.Store.SamplesBufferSize = 1000
	cfg.Store.AnomaliesBufferSize = 100

	// History defaults
	cfg.History.SamplesLogPath = "./logs/metrics_history.csv"
	cfg.History.AnomaliesLogPath = "./logs/anomalies.jsonl"

	// Replay defaults (disabled)
	cfg.Replay.InputPath = ""
	cfg.Replay.OutputPath = ""

	// Database defaults
	cfg.Database.SQLitePath = "./data/hostpulse.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.FilePath = "./logs/hostpulse.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	// Engine defaults
	cfg.Engine.ShutdownTimeoutSeconds = 5
	cfg.Engine.PersistFailureLimit = 10

	return cfg
}

// MinTrainingSamples resolves the fit gate: the explicit value when set,
// otherwise one sample per second of the training window.
func (c *Config) MinTrainingSamples() int {
	if c.Detector.MinTrainingSamples > 0 {
		return c.Detector.MinTrainingSamples
	}
	period := c.Sampler.PeriodSeconds
	if period < 1 {
		period = 1
	}
	n := c.Detector.TrainingWindowSeconds / period
	if n < 2 {
		n = 2
	}
	return n
}
