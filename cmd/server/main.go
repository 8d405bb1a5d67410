package main

// Package main is the entry point for the hostpulse server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Build the sample source: live OS counters, or a historical CSV in
//     replay mode
//   - Assemble the detection engine (store, detector, history logs, bus)
//   - Start the HTTP server: REST API, WebSocket stream, Prometheus metrics
//   - Watch the config file and retune the log level at runtime
//   - Shut down gracefully on SIGINT/SIGTERM
//
// Exit codes: 0 on a clean stop, 1 on an unrecoverable runtime failure,
// 2 on invalid configuration.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hostpulse/hostpulse/internal/analytics/anomaly"
	"github.com/hostpulse/hostpulse/internal/config"
	"github.com/hostpulse/hostpulse/internal/db"
	"github.com/hostpulse/hostpulse/internal/engine"
	"github.com/hostpulse/hostpulse/internal/history"
	"github.com/hostpulse/hostpulse/internal/logging"
	"github.com/hostpulse/hostpulse/internal/replay"
	"github.com/hostpulse/hostpulse/internal/sampler"
	"github.com/hostpulse/hostpulse/internal/server"
	"github.com/hostpulse/hostpulse/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := os.Getenv("HOSTPULSE_CONFIG")
	if configPath == "" {
		configPath = "./hostpulse.yaml"
	}

	manager, err := config.NewManager(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create config manager: %v\n", err)
		return 2
	}
	if err := manager.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 2
	}
	if err := manager.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	cfg := manager.Get(ctx)

	logger, level, err := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 2
	}
	defer logger.Sync()

	logger.Info("hostpulse starting",
		zap.String("config", configPath),
		zap.Bool("replay", cfg.ReplayEnabled()))

	// Follow config file edits: only the log level is retuned live, the rest
	// takes effect on restart.
	go func() {
		for updated := range manager.Watch(ctx) {
			if parsed, err := zapcore.ParseLevel(updated.Logging.Level); err == nil {
				level.SetLevel(parsed)
				logger.Info("log level updated", zap.String("level", updated.Logging.Level))
			}
		}
	}()

	analyses, err := db.Open(cfg.Database.SQLitePath)
	if err != nil {
		logger.Error("analysis history unavailable", zap.Error(err))
		return 1
	}
	defer analyses.Close()

	detector := anomaly.New(anomaly.Config{
		Contamination:      cfg.Detector.Contamination,
		MinTrainingSamples: cfg.MinTrainingSamples(),
		WindowSamples:      cfg.Detector.WindowSizeSeconds / max(cfg.Sampler.PeriodSeconds, 1),
		RetrainInterval:    time.Duration(cfg.Detector.RetrainIntervalSeconds) * time.Second,
		Trees:              cfg.Detector.Trees,
		SubsampleSize:      cfg.Detector.SubsampleSize,
		Seed:               cfg.Detector.Seed,
		Inline:             cfg.ReplayEnabled(),
	}, logger)

	engineCfg := engine.Config{
		Store:               store.New(cfg.Store.SamplesBufferSize, cfg.Store.AnomaliesBufferSize),
		Detector:            detector,
		PersistFailureLimit: cfg.Engine.PersistFailureLimit,
		ShutdownTimeout:     time.Duration(cfg.Engine.ShutdownTimeoutSeconds) * time.Second,
	}

	period := time.Duration(cfg.Sampler.PeriodSeconds) * time.Second
	var analysis *replay.Analysis

	if cfg.ReplayEnabled() {
		source, err := sampler.NewReplaySource(cfg.Replay.InputPath, period, time.Now(), logger)
		if err != nil {
			logger.Error("replay input unusable", zap.Error(err))
			return 1
		}
		analysis, err = replay.NewAnalysis(
			cfg.Replay.InputPath, cfg.Replay.OutputPath, source.Header(), analyses, logger)
		if err != nil {
			source.Close()
			logger.Error("replay analysis setup failed", zap.Error(err))
			return 1
		}
		engineCfg.Source = source
		engineCfg.SourceLabel = "replay"
		engineCfg.RowSink = analysis
	} else {
		source, err := sampler.NewLiveSource(period, logger)
		if err != nil {
			logger.Error("live counters unavailable", zap.Error(err))
			return 1
		}
		samplesLog, err := history.NewSamplesLog(cfg.History.SamplesLogPath, 0, logger)
		if err != nil {
			source.Close()
			logger.Error("samples log unavailable", zap.Error(err))
			return 1
		}
		anomaliesLog, err := history.NewAnomaliesLog(cfg.History.AnomaliesLogPath, logger)
		if err != nil {
			source.Close()
			samplesLog.Close()
			logger.Error("anomalies log unavailable", zap.Error(err))
			return 1
		}
		engineCfg.Source = source
		engineCfg.SourceLabel = "live"
		engineCfg.SamplesLog = samplesLog
		engineCfg.AnomaliesLog = anomaliesLog
	}

	eng, err := engine.New(engineCfg, logger)
	if err != nil {
		logger.Error("engine assembly failed", zap.Error(err))
		return 1
	}
	if err := eng.Start(); err != nil {
		logger.Error("engine start failed", zap.Error(err))
		return 1
	}

	srv := server.New(cfg, eng, analyses, logger)
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("http server failed", zap.Error(err))
		exitCode = 1
	case <-eng.Done():
		// Replay finished, or the sampling loop died.
		if err := eng.Err(); err != nil {
			exitCode = 1
		}
	}

	if err := eng.Stop(); err != nil {
		logger.Error("engine stopped with error", zap.Error(err))
		exitCode = 1
	}

	if analysis != nil && exitCode == 0 {
		record, err := analysis.Finish(ctx)
		if err != nil {
			logger.Error("replay analysis incomplete", zap.Error(err))
			exitCode = 1
		} else {
			fmt.Printf("analysis complete: %s\n", record.Summary)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	logger.Info("hostpulse stopped", zap.Int("exit_code", exitCode))
	return exitCode
}
