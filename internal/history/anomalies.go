package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hostpulse/hostpulse/internal/metrics"
	"github.com/hostpulse/hostpulse/pkg/types"
)

// AnomaliesLog appends one JSON record per reported anomaly. Anomalies are
// rare enough to write synchronously; the file rotates by size so a noisy
// detector cannot fill the disk.
type AnomaliesLog struct {
	logger *zap.Logger

	mu      sync.Mutex
	rotator *lumberjack.Logger
	closed  bool

	consecutiveFailures atomic.Int64
}

// NewAnomaliesLog opens the anomalies log at path with size-based rotation.
func NewAnomaliesLog(path string, logger *zap.Logger) (*AnomaliesLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create anomalies log directory: %w", err)
	}

	return &AnomaliesLog{
		logger: logger,
		rotator: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
	}, nil
}

// Append writes one record as a JSON line. A failed write is dropped and
// counted; the engine keeps running.
func (l *AnomaliesLog) Append(record types.AnomalyRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	line, err := json.Marshal(record)
	if err != nil {
		l.recordFailure(err)
		return nil
	}
	line = append(line, '\n')

	if _, err := l.rotator.Write(line); err != nil {
		l.recordFailure(err)
		return nil
	}

	l.consecutiveFailures.Store(0)
	return nil
}

// ConsecutiveFailures returns the current run of failed writes.
func (l *AnomaliesLog) ConsecutiveFailures() int64 {
	return l.consecutiveFailures.Load()
}

// Close closes the underlying file.
func (l *AnomaliesLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.rotator.Close()
}

func (l *AnomaliesLog) recordFailure(err error) {
	n := l.consecutiveFailures.Add(1)
	metrics.PersistenceFailures.WithLabelValues("anomalies").Inc()
	l.logger.Error("anomaly record dropped",
		zap.Error(err),
		zap.Int64("consecutive_failures", n))
}
