// Package db stores replay analysis history in SQLite.
//
// Each completed replay run produces one AnalysisRecord: which file was
// analyzed (path plus content hash), how many rows it held, how many
// anomalies the detector found, and the per-anomaly details. The REST API
// serves this history so past analyses survive restarts.
//
// The driver is modernc.org/sqlite, so the binary stays pure Go.
package db

import (
	"context"
	"time"
)

// AnalysisRecord summarizes one completed replay analysis.
type AnalysisRecord struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	CreatedAt      time.Time `json:"created_at"`
	InputPath      string    `json:"input_path"`
	FileSHA256     string    `json:"file_sha256"`
	TotalRows      int       `json:"total_rows"`
	AnomaliesFound int       `json:"anomalies_found"`
	AnomalyRate    float64   `json:"anomaly_rate"`
	Summary        string    `json:"summary"`

	// Anomalies is populated by GetAnalysis, not by ListAnalyses.
	Anomalies []AnalysisAnomaly `json:"anomalies,omitempty"`
}

// AnalysisAnomaly is one anomalous row found during a replay analysis.
type AnalysisAnomaly struct {
	RowIndex  int       `json:"row_index"`
	Timestamp time.Time `json:"timestamp"`
	RawScore  float64   `json:"raw_score"`
	Severity  string    `json:"severity"`
	Reasons   []string  `json:"reasons"`
}

// Store is the analysis-history persistence interface.
type Store interface {
	// InsertAnalysis writes one analysis with its anomalies and returns the
	// assigned row ID.
	InsertAnalysis(ctx context.Context, record *AnalysisRecord) (int64, error)

	// ListAnalyses returns the most recent analyses, newest first, without
	// per-anomaly details.
	ListAnalyses(ctx context.Context, limit int) ([]AnalysisRecord, error)

	// GetAnalysis returns one analysis with its anomalies, or ErrNotFound.
	GetAnalysis(ctx context.Context, id int64) (*AnalysisRecord, error)

	// Close closes the underlying database.
	Close() error
}
