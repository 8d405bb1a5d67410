// Package anomaly runs the online detection lifecycle on top of the
// isolation forest in internal/analytics/ml.
//
// Responsibilities:
//   - Maintain the rolling window of recent feature vectors used for fits
//   - Drive the model lifecycle: cold -> training -> ready
//   - Score samples against the current model once ready
//   - Schedule refits on sample time so replayed files reproduce exactly
//   - Swap models atomically so scoring never waits on a fit
//
// A failed fit keeps the previous model (or returns to cold when none
// exists) and logs a warning; it never takes the engine to error. Only the
// owning loop decides that.
package anomaly

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/analytics/ml"
	"github.com/hostpulse/hostpulse/internal/metrics"
	"github.com/hostpulse/hostpulse/internal/store"
	"github.com/hostpulse/hostpulse/pkg/types"
)

// retrainWindowFactor sizes refits: the most recent MinTrainingSamples x 4
// rows, capped by the window capacity, so the model drifts with recent
// behavior instead of anchoring to boot time.
const retrainWindowFactor = 4

// Config controls the detection lifecycle. The engine derives the sample
// counts from the second-based settings before constructing the detector.
type Config struct {
	Contamination      float64
	MinTrainingSamples int
	WindowSamples      int
	RetrainInterval    time.Duration
	Trees              int
	SubsampleSize      int
	Seed               int64

	// Inline runs fits synchronously inside Observe. Replay analysis sets
	// this so every row meets the same model on every run.
	Inline bool
}

// Result is the outcome of observing one sample.
type Result struct {
	State     types.EngineState
	Scored    bool
	RawScore  float64
	IsAnomaly bool
}

// Stats is a point-in-time view of the detector lifecycle.
type Stats struct {
	State       types.EngineState
	TrainedAt   time.Time
	Fits        uint64
	WindowSize  int
	LastFitRows int
}

// Detector owns the model lifecycle. Observe is safe for one caller at a
// time per engine; Stats and State may be read from any goroutine.
type Detector struct {
	cfg           Config
	logger        *zap.Logger
	retrainWindow int

	model atomic.Pointer[ml.IsolationForest]

	mu          sync.Mutex
	window      store.Ring[[]float64]
	state       types.EngineState
	observed    uint64
	fitting     bool
	trainedAt   time.Time
	lastAttempt time.Time
	fits        uint64
	lastFitRows int
}

// New creates a cold detector. The rolling window is widened if needed so it
// can hold at least one full training set.
func New(cfg Config, logger *zap.Logger) *Detector {
	if cfg.MinTrainingSamples < 2 {
		cfg.MinTrainingSamples = 2
	}
	if cfg.WindowSamples < cfg.MinTrainingSamples {
		cfg.WindowSamples = cfg.MinTrainingSamples
	}
	retrainWindow := cfg.MinTrainingSamples * retrainWindowFactor
	if retrainWindow > cfg.WindowSamples {
		retrainWindow = cfg.WindowSamples
	}
	return &Detector{
		cfg:           cfg,
		logger:        logger,
		retrainWindow: retrainWindow,
		window:        store.NewRing[[]float64](cfg.WindowSamples),
		state:         types.StateCold,
	}
}

// Observe feeds one sample through the lifecycle: the feature vector joins
// the rolling window, the sample is scored when a model is ready, and fits
// are started when due. Scoring uses the model that existed when the sample
// arrived; a fit triggered by this sample applies from the next one.
func (d *Detector) Observe(sample types.MetricSample) Result {
	feats := sample.Features()

	d.mu.Lock()
	d.window.Push(feats)
	d.observed++
	preState := d.state

	var res Result
	if preState == types.StateReady {
		if model := d.model.Load(); model != nil {
			score, err := model.Score(feats)
			if err != nil {
				d.logger.Warn("sample scoring failed", zap.Error(err))
			} else {
				res.Scored = true
				res.RawScore = score
				res.IsAnomaly = score < 0
			}
		}
	}

	switch preState {
	case types.StateCold:
		if d.observed >= uint64(d.cfg.MinTrainingSamples) && !d.fitting {
			d.state = types.StateTraining
			d.beginFitLocked(d.window.LastN(d.window.Len()), sample.Timestamp, true)
		}
	case types.StateReady:
		if d.shouldRetrainLocked(sample.Timestamp) {
			d.beginFitLocked(d.window.LastN(d.retrainWindow), sample.Timestamp, false)
		}
	}

	res.State = d.state
	d.mu.Unlock()
	return res
}

// State returns the current lifecycle state.
func (d *Detector) State() types.EngineState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns a consistent snapshot of the lifecycle counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		State:       d.state,
		TrainedAt:   d.trainedAt,
		Fits:        d.fits,
		WindowSize:  d.window.Len(),
		LastFitRows: d.lastFitRows,
	}
}

// shouldRetrainLocked applies the retrain schedule against sample time, not
// wall time, so replayed files retrain at the same rows as the original run.
func (d *Detector) shouldRetrainLocked(sampleTime time.Time) bool {
	if d.fitting {
		return false
	}
	if d.window.Len() < d.cfg.MinTrainingSamples {
		return false
	}
	return sampleTime.Sub(d.lastAttempt) > d.cfg.RetrainInterval
}

// beginFitLocked starts a fit over rows. Inline mode fits before returning;
// otherwise the fit runs on its own goroutine and reports back under the
// lock. The attempt clock advances either way so a failing fit waits a full
// interval before the next try.
func (d *Detector) beginFitLocked(rows [][]float64, sampleTime time.Time, initial bool) {
	d.fitting = true
	d.lastAttempt = sampleTime

	if d.cfg.Inline {
		forest, err := d.fit(rows)
		d.finishFitLocked(forest, err, len(rows), sampleTime, initial)
		return
	}

	go func() {
		forest, err := d.fit(rows)
		d.mu.Lock()
		d.finishFitLocked(forest, err, len(rows), sampleTime, initial)
		d.mu.Unlock()
	}()
}

// fit trains a fresh forest. Each fit reseeds from config, so equal inputs
// produce equal models no matter how many fits came before.
func (d *Detector) fit(rows [][]float64) (*ml.IsolationForest, error) {
	forest := ml.NewIsolationForest(
		ml.WithTrees(d.cfg.Trees),
		ml.WithSampleSize(d.cfg.SubsampleSize),
		ml.WithContamination(d.cfg.Contamination),
		ml.WithSeed(d.cfg.Seed),
	)

	start := time.Now()
	err := forest.Fit(rows)
	elapsed := time.Since(start)

	metrics.FitDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.FitsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.FitsTotal.WithLabelValues("success").Inc()

	if soft := d.cfg.RetrainInterval / 2; soft > 0 && elapsed > soft {
		d.logger.Warn("model fit exceeded soft deadline",
			zap.Duration("elapsed", elapsed),
			zap.Duration("deadline", soft))
	}
	return forest, nil
}

func (d *Detector) finishFitLocked(forest *ml.IsolationForest, err error, rows int, sampleTime time.Time, initial bool) {
	d.fitting = false
	if err != nil {
		if initial {
			d.state = types.StateCold
		}
		d.logger.Warn("model fit failed",
			zap.Error(err),
			zap.Int("rows", rows),
			zap.String("state", string(d.state)))
		return
	}

	d.model.Store(forest)
	d.trainedAt = sampleTime
	d.lastFitRows = rows
	d.fits++
	d.state = types.StateReady
	d.logger.Info("model fitted",
		zap.Int("rows", rows),
		zap.Uint64("fits", d.fits),
		zap.Float64("offset", forest.Offset()),
		zap.Time("trained_at", sampleTime))
}
