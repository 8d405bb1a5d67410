// Package engine wires the sampling pipeline together and owns its
// lifecycle.
//
// One engine value holds the sampler, rolling store, detector, classifier,
// history writers, and subscriber bus. Start spawns the sampling loop; Stop
// cancels it, waits out the shutdown deadline, and flushes persistence. The
// transport layer is handed the engine value and only ever touches the
// thread-safe Subscribe/Snapshot/Stats surface, never the internal buffers.
//
// Per-sample observable order: stored -> scored -> classified -> samples-log
// enqueue -> sample_update broadcast -> [anomalies-log -> anomaly_report
// broadcast].
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/analytics/anomaly"
	"github.com/hostpulse/hostpulse/internal/analytics/scoring"
	"github.com/hostpulse/hostpulse/internal/bus"
	"github.com/hostpulse/hostpulse/internal/history"
	"github.com/hostpulse/hostpulse/internal/metrics"
	"github.com/hostpulse/hostpulse/internal/sampler"
	"github.com/hostpulse/hostpulse/internal/store"
	"github.com/hostpulse/hostpulse/pkg/types"
)

// RowSink receives every processed sample with its scoring outcome. The
// replay analyzer uses it to build the per-row output file.
type RowSink interface {
	WriteRow(sample types.MetricSample, scored bool, rawScore float64, isAnomaly bool) error
}

// Detector is the model-lifecycle surface the engine drives. Satisfied by
// *anomaly.Detector.
type Detector interface {
	Observe(sample types.MetricSample) anomaly.Result
	State() types.EngineState
	Stats() anomaly.Stats
}

// Config assembles an engine from its components.
type Config struct {
	Source      sampler.Source
	SourceLabel string // "live" or "replay", used in metrics

	Store    *store.Store
	Detector Detector

	SamplesLog   *history.SamplesLog
	AnomaliesLog *history.AnomaliesLog

	// RowSink is optional; nil disables per-row output.
	RowSink RowSink

	PersistFailureLimit int
	ShutdownTimeout     time.Duration
}

// Engine runs the detection pipeline.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	bus    *bus.Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	state     types.EngineState
	startedAt time.Time
	started   bool
	stopped   bool
	latest    *types.SampleUpdate
	runErr    error

	done chan struct{}
}

// New creates an engine in the cold state. Nothing runs until Start.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("engine: source is required")
	}
	if cfg.Store == nil || cfg.Detector == nil {
		return nil, fmt.Errorf("engine: store and detector are required")
	}
	if cfg.PersistFailureLimit < 1 {
		cfg.PersistFailureLimit = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.SourceLabel == "" {
		cfg.SourceLabel = "live"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		logger: logger,
		bus:    bus.New(logger),
		ctx:    ctx,
		cancel: cancel,
		state:  types.StateCold,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the sampling loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine: already started")
	}
	e.started = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	metrics.SetEngineState(string(types.StateCold))
	e.logger.Info("engine starting", zap.String("source", e.cfg.SourceLabel))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(e.done)
		e.run()
	}()
	return nil
}

// Stop cancels the sampling loop, waits up to the shutdown deadline, flushes
// the history writers, and broadcasts the stopped state. It is safe to call
// once after Start.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()

	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(e.cfg.ShutdownTimeout):
		e.logger.Warn("shutdown deadline exceeded, abandoning outstanding work",
			zap.Duration("deadline", e.cfg.ShutdownTimeout))
	}

	if err := e.cfg.Source.Close(); err != nil {
		e.logger.Warn("source close failed", zap.Error(err))
	}
	if e.cfg.SamplesLog != nil {
		if err := e.cfg.SamplesLog.Close(); err != nil {
			e.logger.Warn("samples log close failed", zap.Error(err))
		}
	}
	if e.cfg.AnomaliesLog != nil {
		if err := e.cfg.AnomaliesLog.Close(); err != nil {
			e.logger.Warn("anomalies log close failed", zap.Error(err))
		}
	}

	// Error is sticky: a dead engine does not report a clean stop.
	if e.State() != types.StateError {
		e.setState(types.StateStopped)
	}
	e.bus.Close()

	e.logger.Info("engine stopped")
	return e.Err()
}

// Done is closed when the sampling loop exits, whether by Stop, source
// exhaustion, or a fatal error.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the fatal error that ended the loop, if any.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runErr
}

// State returns the current engine state.
func (e *Engine) State() types.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Stats returns the engine activity counters.
func (e *Engine) Stats() types.Stats {
	e.mu.RLock()
	startedAt := e.startedAt
	state := e.state
	e.mu.RUnlock()

	uptime := 0.0
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).Seconds()
	}
	return types.Stats{
		SampleCount:   e.cfg.Store.SampleCount(),
		AnomalyCount:  e.cfg.Store.AnomalyCount(),
		UptimeSeconds: uptime,
		State:         state,
	}
}

// Latest returns the most recently processed sample update.
func (e *Engine) Latest() (types.SampleUpdate, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return types.SampleUpdate{}, false
	}
	return *e.latest, true
}

// Snapshot serves a new client's initial state: the last k samples and last l
// anomalies (capped by the store's capacities) plus current statistics.
func (e *Engine) Snapshot(k, l int) types.Snapshot {
	if k < 1 || k > e.cfg.Store.SamplesCapacity() {
		k = e.cfg.Store.SamplesCapacity()
	}
	if l < 1 || l > e.cfg.Store.AnomaliesCapacity() {
		l = e.cfg.Store.AnomaliesCapacity()
	}
	return types.Snapshot{
		Samples:   e.cfg.Store.RecentSamples(k),
		Anomalies: e.cfg.Store.RecentAnomalies(l),
		Stats:     e.Stats(),
	}
}

// RecentSamples returns a copy of the last k stored samples.
func (e *Engine) RecentSamples(k int) []types.MetricSample {
	return e.cfg.Store.RecentSamples(k)
}

// RecentAnomalies returns a copy of the last k reported anomalies.
func (e *Engine) RecentAnomalies(k int) []types.AnomalyRecord {
	return e.cfg.Store.RecentAnomalies(k)
}

// ChartSeries returns the downsampled dashboard series.
func (e *Engine) ChartSeries() []types.ChartPoint {
	return e.cfg.Store.ChartSeries()
}

// DetectorStats exposes the detector lifecycle counters.
func (e *Engine) DetectorStats() anomaly.Stats {
	return e.cfg.Detector.Stats()
}

// Subscribe registers a live subscriber with the given queue capacity.
func (e *Engine) Subscribe(capacity int) *bus.Subscription {
	return e.bus.Subscribe(capacity)
}

// Unsubscribe removes a subscriber.
func (e *Engine) Unsubscribe(id uuid.UUID) {
	e.bus.Unsubscribe(id)
}

// run is the sampling loop: one pass per tick until cancellation, source
// exhaustion, or a fatal failure.
func (e *Engine) run() {
	for {
		sample, err := e.cfg.Source.Next(e.ctx)
		switch {
		case err == nil:
		case errors.Is(err, sampler.ErrExhausted):
			e.logger.Info("source exhausted, sampling loop finished",
				zap.Uint64("samples", e.cfg.Store.SampleCount()))
			e.setState(types.StateStopped)
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			e.fail(fmt.Errorf("engine: sampler failed: %w", err))
			return
		}

		if !e.tick(sample) {
			return
		}
	}
}

// tick processes one sample end to end. It returns false when the engine
// must stop (persistence is gone for good).
func (e *Engine) tick(sample types.MetricSample) bool {
	e.cfg.Store.AppendSample(sample)
	metrics.SamplesTotal.WithLabelValues(e.cfg.SourceLabel).Inc()

	res := e.cfg.Detector.Observe(sample)
	e.reconcileState(res.State)

	var record *types.AnomalyRecord
	if res.Scored {
		cls := scoring.Classify(sample, res.RawScore)
		if res.IsAnomaly {
			metrics.AnomaliesTotal.WithLabelValues(string(cls.Severity)).Inc()
		}
		if cls.Report {
			record = &types.AnomalyRecord{
				Timestamp: sample.Timestamp,
				RawScore:  res.RawScore,
				Severity:  cls.Severity,
				Reasons:   cls.Reasons,
				Sample:    sample,
			}
			e.cfg.Store.AppendAnomaly(*record)
		}
	}

	// Persist the sample row before broadcasting it: a client that reads the
	// file and then subscribes cannot fall in between.
	if e.cfg.SamplesLog != nil {
		_ = e.cfg.SamplesLog.Append(history.Row{
			Sample:    sample,
			Scored:    res.Scored,
			RawScore:  res.RawScore,
			IsAnomaly: res.Scored && res.IsAnomaly,
		})
		if e.cfg.SamplesLog.ConsecutiveFailures() >= int64(e.cfg.PersistFailureLimit) {
			e.fail(fmt.Errorf("engine: %d consecutive samples-log failures", e.cfg.PersistFailureLimit))
			return false
		}
	}

	if e.cfg.RowSink != nil {
		if err := e.cfg.RowSink.WriteRow(sample, res.Scored, res.RawScore, res.Scored && res.IsAnomaly); err != nil {
			e.fail(fmt.Errorf("engine: row sink failed: %w", err))
			return false
		}
	}

	update := types.SampleUpdate{Sample: sample, IsAnomaly: res.Scored && res.IsAnomaly}
	if res.Scored {
		score := res.RawScore
		update.RawScore = &score
	}
	e.mu.Lock()
	e.latest = &update
	e.mu.Unlock()

	e.bus.Publish(types.Event{
		Type:      types.EventSampleUpdate,
		Timestamp: sample.Timestamp,
		Sample:    &update,
	})

	if record != nil {
		if e.cfg.AnomaliesLog != nil {
			_ = e.cfg.AnomaliesLog.Append(*record)
		}
		e.bus.Publish(types.Event{
			Type:      types.EventAnomalyReport,
			Timestamp: sample.Timestamp,
			Anomaly:   record,
		})
		e.logger.Info("anomaly reported",
			zap.Float64("raw_score", record.RawScore),
			zap.String("severity", string(record.Severity)),
			zap.Strings("reasons", record.Reasons))
	}

	return true
}

// reconcileState folds the detector's lifecycle state into the engine state
// and broadcasts transitions. Terminal states never revert.
func (e *Engine) reconcileState(detectorState types.EngineState) {
	e.mu.RLock()
	current := e.state
	e.mu.RUnlock()

	if current == types.StateError || current == types.StateStopped {
		return
	}
	if detectorState != current {
		e.setState(detectorState)
	}
}

// fail records a fatal error and moves the engine to the error state.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	if e.runErr == nil {
		e.runErr = err
	}
	e.mu.Unlock()

	e.logger.Error("engine fatal failure", zap.Error(err))
	e.setState(types.StateError)
}

// setState updates the state, flips the metrics gauge, and broadcasts a
// state_update event.
func (e *Engine) setState(state types.EngineState) {
	e.mu.Lock()
	if e.state == state {
		e.mu.Unlock()
		return
	}
	prev := e.state
	e.state = state
	e.mu.Unlock()

	metrics.SetEngineState(string(state))
	e.logger.Info("engine state changed",
		zap.String("from", string(prev)),
		zap.String("to", string(state)))

	e.bus.Publish(types.Event{
		Type:      types.EventStateUpdate,
		Timestamp: time.Now(),
		State:     &types.StateUpdate{State: state},
	})
}
