package sampler

// Package sampler produces one MetricSample per tick from a pluggable source.
//
// Responsibilities:
//   - Define the Source interface shared by live and replay sampling
//   - Read live OS counters (CPU, memory, disk I/O, network I/O) via gopsutil
//   - Replay historical CSV tables row by row
//   - Convert cumulative byte counters into per-second MB rates
//
// A Source blocks in Next until the next tick boundary (the replay source
// returns immediately), then emits exactly one sample. Transient failures of
// a single counter zero that field and still emit; only the total loss of the
// sampling subsystem surfaces as an error.

import (
	"context"
	"errors"

	"github.com/hostpulse/hostpulse/pkg/types"
)

// ErrExhausted signals the normal end of a finite source (replay reached the
// end of its input file).
var ErrExhausted = errors.New("sampler: source exhausted")

// Source emits one MetricSample per tick.
type Source interface {
	// Next blocks until the next tick boundary and returns the sample taken
	// there. It returns ErrExhausted when a finite source runs out of rows
	// and ctx.Err() when the context ends first.
	Next(ctx context.Context) (types.MetricSample, error)

	// Close releases any resources held by the source.
	Close() error
}
