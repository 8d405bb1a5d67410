// Package history persists the engine's output to append-only files: every
// sample to a CSV table and every reported anomaly to a JSONL log.
//
// Responsibilities:
//   - Keep disk latency off the sampling loop (bounded queue, one writer)
//   - Preserve per-sample order in the files (FIFO queue, single goroutine)
//   - Absorb write failures: drop the row, log at error, count consecutive
//     failures so the engine can decide when persistence is truly gone
//   - Flush everything on close
package history

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/metrics"
	"github.com/hostpulse/hostpulse/pkg/types"
)

// ErrClosed is returned when appending to a closed log.
var ErrClosed = errors.New("history: log closed")

// defaultQueueSize bounds the samples queue when the caller passes none.
const defaultQueueSize = 256

// SamplesHeader is the fixed column order of the samples log.
var SamplesHeader = []string{
	"timestamp",
	"cpu_percent",
	"cpu_frequency_mhz",
	"memory_percent",
	"memory_available_gb",
	"disk_read_mb_per_s",
	"disk_write_mb_per_s",
	"network_sent_mb_per_s",
	"network_recv_mb_per_s",
	"is_anomaly",
	"raw_score_or_empty",
}

// Row is one samples-log entry. Scored is false while the detector is cold,
// which leaves the score column blank.
type Row struct {
	Sample    types.MetricSample
	Scored    bool
	RawScore  float64
	IsAnomaly bool
}

// Fields renders the row in SamplesHeader order.
func (r Row) Fields() []string {
	score := ""
	if r.Scored {
		score = formatFloat(r.RawScore)
	}
	isAnomaly := "False"
	if r.IsAnomaly {
		isAnomaly = "True"
	}
	return []string{
		r.Sample.Timestamp.Format(time.RFC3339Nano),
		formatFloat(r.Sample.CPUPercent),
		formatFloat(r.Sample.CPUFrequencyMHz),
		formatFloat(r.Sample.MemoryPercent),
		formatFloat(r.Sample.MemoryAvailGB),
		formatFloat(r.Sample.DiskReadMBs),
		formatFloat(r.Sample.DiskWriteMBs),
		formatFloat(r.Sample.NetworkSentMBs),
		formatFloat(r.Sample.NetworkRecvMBs),
		isAnomaly,
		score,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SamplesLog appends one CSV row per sample. Append enqueues and returns
// immediately; a dedicated goroutine drains the queue in FIFO order so rows
// land on disk in sample order without the sampling loop ever waiting on I/O.
type SamplesLog struct {
	logger *zap.Logger

	file   *os.File
	buf    *bufio.Writer
	writer *csv.Writer

	queue chan Row
	done  chan struct{}

	// mu orders Append against Close: Close may not close the queue while an
	// Append holds a read lock, so the enqueue can never hit a closed channel.
	mu     sync.RWMutex
	closed bool

	consecutiveFailures atomic.Int64
}

// NewSamplesLog opens (or creates) the samples log and starts the writer
// goroutine. A fresh or empty file gets the header row first.
func NewSamplesLog(path string, queueSize int, logger *zap.Logger) (*SamplesLog, error) {
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create samples log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open samples log: %w", err)
	}

	buf := bufio.NewWriter(file)
	l := &SamplesLog{
		logger: logger,
		file:   file,
		buf:    buf,
		writer: csv.NewWriter(buf),
		queue:  make(chan Row, queueSize),
		done:   make(chan struct{}),
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("history: stat samples log: %w", err)
	}
	if info.Size() == 0 {
		if err := l.writer.Write(SamplesHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("history: write samples header: %w", err)
		}
		l.writer.Flush()
		if err := buf.Flush(); err != nil {
			file.Close()
			return nil, fmt.Errorf("history: flush samples header: %w", err)
		}
	}

	go l.run()
	return l, nil
}

// Append enqueues a row for writing. It never blocks: when the queue is full
// the row is dropped and counted as a persistence failure.
func (l *SamplesLog) Append(row Row) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	select {
	case l.queue <- row:
		return nil
	default:
		l.recordFailure("samples", fmt.Errorf("history: samples queue full"))
		return nil
	}
}

// ConsecutiveFailures returns the current run of failed writes. A successful
// write resets it.
func (l *SamplesLog) ConsecutiveFailures() int64 {
	return l.consecutiveFailures.Load()
}

// Close stops accepting rows, drains the queue, flushes, and closes the file.
func (l *SamplesLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done

	l.writer.Flush()
	flushErr := l.buf.Flush()
	closeErr := l.file.Close()
	if flushErr != nil {
		return fmt.Errorf("history: flush samples log: %w", flushErr)
	}
	return closeErr
}

// run drains the queue. Rows arrive in sample order and the single goroutine
// keeps them that way on disk. The buffer flushes whenever the queue runs
// dry, so rows are visible to readers within one burst.
func (l *SamplesLog) run() {
	defer close(l.done)

	for row := range l.queue {
		l.write(row)
		if len(l.queue) == 0 {
			l.writer.Flush()
			if err := l.buf.Flush(); err != nil {
				l.recordFailure("samples", err)
			}
		}
	}
}

func (l *SamplesLog) write(row Row) {
	if err := l.writer.Write(row.Fields()); err != nil {
		l.recordFailure("samples", err)
		return
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.recordFailure("samples", err)
		return
	}
	l.consecutiveFailures.Store(0)
}

func (l *SamplesLog) recordFailure(target string, err error) {
	n := l.consecutiveFailures.Add(1)
	metrics.PersistenceFailures.WithLabelValues(target).Inc()
	l.logger.Error("sample row dropped",
		zap.Error(err),
		zap.Int64("consecutive_failures", n))
}
