// Package store holds the engine's bounded in-memory state: recent samples,
// recent reported anomalies, and the downsampled chart series.
//
// Responsibilities:
//   - Append samples and anomaly records with oldest-first eviction
//   - Serve point-in-time snapshots that never alias internal buffers
//   - Track monotonic totals (samples appended, anomalies reported)
//   - Maintain the chart series (every 2nd sample, last 30 points)
//
// The store is the only shared mutable collection in the engine. One mutex
// covers all buffers and is held only for the duration of a push or copy.
package store

import (
	"sync"

	"github.com/hostpulse/hostpulse/pkg/types"
)

const (
	chartEvery    = 2
	chartCapacity = 30
)

// Store is the rolling store of recent engine state.
type Store struct {
	mu        sync.Mutex
	samples   Ring[types.MetricSample]
	anomalies Ring[types.AnomalyRecord]
	chart     Ring[types.ChartPoint]

	sampleCount  uint64
	anomalyCount uint64
	sinceChart   int
}

// New creates a store with the given buffer capacities.
func New(samplesCapacity, anomaliesCapacity int) *Store {
	return &Store{
		samples:   NewRing[types.MetricSample](samplesCapacity),
		anomalies: NewRing[types.AnomalyRecord](anomaliesCapacity),
		chart:     NewRing[types.ChartPoint](chartCapacity),
	}
}

// AppendSample pushes a sample, evicting the oldest when full, and feeds the
// chart series on its stride.
func (s *Store) AppendSample(sample types.MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples.Push(sample)
	s.sampleCount++

	s.sinceChart++
	if s.sinceChart >= chartEvery {
		s.sinceChart = 0
		s.chart.Push(types.ChartPoint{
			Timestamp:      sample.Timestamp,
			CPUPercent:     sample.CPUPercent,
			MemoryPercent:  sample.MemoryPercent,
			DiskReadMBs:    sample.DiskReadMBs,
			NetworkSentMBs: sample.NetworkSentMBs,
		})
	}
}

// AppendAnomaly pushes a reported anomaly, evicting the oldest when full.
func (s *Store) AppendAnomaly(record types.AnomalyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anomalies.Push(record)
	s.anomalyCount++
}

// RecentSamples returns a copy of the last k samples, oldest first.
func (s *Store) RecentSamples(k int) []types.MetricSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples.LastN(k)
}

// RecentAnomalies returns a copy of the last k reported anomalies, oldest first.
func (s *Store) RecentAnomalies(k int) []types.AnomalyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anomalies.LastN(k)
}

// ChartSeries returns a copy of the downsampled chart points, oldest first.
func (s *Store) ChartSeries() []types.ChartPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chart.LastN(s.chart.Len())
}

// SampleCount returns the total samples appended since start, not the buffer
// size.
func (s *Store) SampleCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleCount
}

// AnomalyCount returns the total anomalies reported since start.
func (s *Store) AnomalyCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anomalyCount
}

// SamplesCapacity returns the configured samples buffer size.
func (s *Store) SamplesCapacity() int {
	return s.samples.Cap()
}

// AnomaliesCapacity returns the configured anomalies buffer size.
func (s *Store) AnomaliesCapacity() int {
	return s.anomalies.Cap()
}
