package types

// Package types defines the public data types shared between the hostpulse
// engine and its transports (REST, WebSocket, logs).
//
// These types define the wire contracts.

import "time"

// Severity classifies a scored sample by how anomalous it is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityNormal   Severity = "normal"
)

// Reported returns true when the severity is pushed to subscribers and
// persisted; medium and normal anomalies are only counted.
func (s Severity) Reported() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// EngineState is the lifecycle state of the detection engine.
type EngineState string

const (
	StateCold     EngineState = "cold"
	StateTraining EngineState = "training"
	StateReady    EngineState = "ready"
	StateError    EngineState = "error"
	StateStopped  EngineState = "stopped"
)

// Core data types

// MetricSample is one snapshot of host counters at a single tick. Disk and
// network fields are instantaneous per-second rates, not cumulative counters.
type MetricSample struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpu_percent"`
	CPUFrequencyMHz float64   `json:"cpu_frequency_mhz"`
	MemoryPercent   float64   `json:"memory_percent"`
	MemoryAvailGB   float64   `json:"memory_available_gb"`
	DiskReadMBs     float64   `json:"disk_read_mb_per_s"`
	DiskWriteMBs    float64   `json:"disk_write_mb_per_s"`
	NetworkSentMBs  float64   `json:"network_sent_mb_per_s"`
	NetworkRecvMBs  float64   `json:"network_recv_mb_per_s"`
}

// Features returns the ordered feature vector the detector consumes. The
// order is part of the model contract and must match between fit and score.
func (m MetricSample) Features() []float64 {
	return []float64{
		m.CPUPercent,
		m.MemoryPercent,
		m.DiskReadMBs,
		m.DiskWriteMBs,
		m.NetworkSentMBs,
		m.NetworkRecvMBs,
		m.CPUFrequencyMHz,
	}
}

// AnomalyRecord is a reported anomaly: a sample whose score fell in the
// critical or high band, with the rule-based indicators that fired.
type AnomalyRecord struct {
	Timestamp time.Time    `json:"timestamp"`
	RawScore  float64      `json:"raw_score"`
	Severity  Severity     `json:"severity"`
	Reasons   []string     `json:"reasons"`
	Sample    MetricSample `json:"sample"`
}

// ChartPoint is one downsampled point of the dashboard chart series.
type ChartPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskReadMBs    float64   `json:"disk_read_mb_per_s"`
	NetworkSentMBs float64   `json:"network_sent_mb_per_s"`
}

// Stats summarizes engine activity since start.
type Stats struct {
	SampleCount   uint64      `json:"sample_count"`
	AnomalyCount  uint64      `json:"anomaly_count"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	State         EngineState `json:"state"`
}

// Snapshot is the initial state served to a newly connected client.
type Snapshot struct {
	Samples   []MetricSample  `json:"samples"`
	Anomalies []AnomalyRecord `json:"anomalies"`
	Stats     Stats           `json:"stats"`
}

// Subscription event types

const (
	EventSampleUpdate  = "sample_update"
	EventAnomalyReport = "anomaly_report"
	EventStateUpdate   = "state_update"
)

// SampleUpdate is the per-tick event pushed to subscribers.
type SampleUpdate struct {
	Sample    MetricSample `json:"sample"`
	IsAnomaly bool         `json:"is_anomaly"`
	RawScore  *float64     `json:"raw_score,omitempty"` // nil before the model is ready
}

// StateUpdate announces an engine state transition.
type StateUpdate struct {
	State EngineState `json:"state"`
}

// Event is the envelope delivered through a subscription queue.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Sample    *SampleUpdate  `json:"sample,omitempty"`
	Anomaly   *AnomalyRecord `json:"anomaly,omitempty"`
	State     *StateUpdate   `json:"state,omitempty"`
}
