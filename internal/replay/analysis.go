// Package replay records the outcome of analyzing a historical file: a
// per-row output CSV (the input schema plus is_anomaly and raw_score) and,
// on completion, one analysis record in the SQLite history store.
//
// The analyzer plugs into the engine as its RowSink, so rows flow through
// the same pipeline as live samples; only the source and the sink differ.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/analytics/scoring"
	"github.com/hostpulse/hostpulse/internal/db"
	"github.com/hostpulse/hostpulse/internal/sampler"
	"github.com/hostpulse/hostpulse/pkg/types"
)

// Analysis accumulates one replay run. Not safe for concurrent use; the
// engine calls WriteRow from its single sampling loop.
type Analysis struct {
	logger *zap.Logger

	runID     string
	inputPath string
	sha256Hex string
	startedAt time.Time

	columns []string // input header order, canonical names or "" for unknown

	outFile   *os.File
	outWriter *csv.Writer

	store db.Store

	totalRows int
	anomalies []db.AnalysisAnomaly
	finished  bool
}

// NewAnalysis prepares a replay run: hashes the input file, opens the output
// CSV, and writes its header (the input columns plus is_anomaly and
// raw_score). The store may be nil to skip history recording.
func NewAnalysis(inputPath, outputPath string, inputHeader []string, store db.Store, logger *zap.Logger) (*Analysis, error) {
	sum, err := fileSHA256(inputPath)
	if err != nil {
		return nil, fmt.Errorf("replay: hash input: %w", err)
	}

	columns := make([]string, len(inputHeader))
	for i, name := range inputHeader {
		if canonical, ok := sampler.CanonicalColumn(name); ok {
			columns[i] = canonical
		}
	}

	a := &Analysis{
		logger:    logger,
		runID:     uuid.NewString(),
		inputPath: inputPath,
		sha256Hex: sum,
		startedAt: time.Now(),
		columns:   columns,
		store:     store,
	}

	if outputPath != "" {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return nil, fmt.Errorf("replay: create output directory: %w", err)
		}
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("replay: create output file: %w", err)
		}
		a.outFile = f
		a.outWriter = csv.NewWriter(f)

		outHeader := append(append([]string(nil), inputHeader...), "is_anomaly", "raw_score")
		if err := a.outWriter.Write(outHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("replay: write output header: %w", err)
		}
	}

	logger.Info("replay analysis started",
		zap.String("run_id", a.runID),
		zap.String("input", inputPath),
		zap.String("sha256", sum))
	return a, nil
}

// RunID returns the analysis run identifier.
func (a *Analysis) RunID() string {
	return a.runID
}

// WriteRow appends one analyzed row to the output file and collects anomaly
// details for the history record. Implements the engine's RowSink.
func (a *Analysis) WriteRow(sample types.MetricSample, scored bool, rawScore float64, isAnomaly bool) error {
	rowIndex := a.totalRows
	a.totalRows++

	if isAnomaly {
		a.anomalies = append(a.anomalies, db.AnalysisAnomaly{
			RowIndex:  rowIndex,
			Timestamp: sample.Timestamp,
			RawScore:  rawScore,
			Severity:  string(scoring.SeverityForScore(rawScore)),
			Reasons:   scoring.Reasons(sample),
		})
	}

	if a.outWriter == nil {
		return nil
	}

	record := make([]string, 0, len(a.columns)+2)
	for _, canonical := range a.columns {
		record = append(record, sampleField(sample, canonical))
	}
	if isAnomaly {
		record = append(record, "True")
	} else {
		record = append(record, "False")
	}
	if scored {
		record = append(record, strconv.FormatFloat(rawScore, 'f', -1, 64))
	} else {
		record = append(record, "")
	}

	if err := a.outWriter.Write(record); err != nil {
		return fmt.Errorf("replay: write output row: %w", err)
	}
	return nil
}

// Finish flushes the output file and records the completed analysis in the
// history store. It returns the record whether or not a store is configured.
func (a *Analysis) Finish(ctx context.Context) (*db.AnalysisRecord, error) {
	if a.finished {
		return nil, fmt.Errorf("replay: analysis already finished")
	}
	a.finished = true

	if a.outWriter != nil {
		a.outWriter.Flush()
		if err := a.outWriter.Error(); err != nil {
			a.outFile.Close()
			return nil, fmt.Errorf("replay: flush output: %w", err)
		}
		if err := a.outFile.Close(); err != nil {
			return nil, fmt.Errorf("replay: close output: %w", err)
		}
	}

	rate := 0.0
	if a.totalRows > 0 {
		rate = float64(len(a.anomalies)) / float64(a.totalRows)
	}
	record := &db.AnalysisRecord{
		RunID:          a.runID,
		CreatedAt:      a.startedAt,
		InputPath:      a.inputPath,
		FileSHA256:     a.sha256Hex,
		TotalRows:      a.totalRows,
		AnomaliesFound: len(a.anomalies),
		AnomalyRate:    rate,
		Summary: fmt.Sprintf("%d of %d rows anomalous (%.2f%%)",
			len(a.anomalies), a.totalRows, rate*100),
		Anomalies: a.anomalies,
	}

	if a.store != nil {
		if _, err := a.store.InsertAnalysis(ctx, record); err != nil {
			return record, fmt.Errorf("replay: record analysis: %w", err)
		}
	}

	a.logger.Info("replay analysis finished",
		zap.String("run_id", a.runID),
		zap.Int("rows", record.TotalRows),
		zap.Int("anomalies", record.AnomaliesFound))
	return record, nil
}

// sampleField renders the canonical column from the sample; unknown columns
// come back empty so the output keeps the input's shape.
func sampleField(sample types.MetricSample, canonical string) string {
	switch canonical {
	case "timestamp":
		return sample.Timestamp.Format(time.RFC3339Nano)
	case "cpu_percent":
		return formatFloat(sample.CPUPercent)
	case "cpu_frequency_mhz":
		return formatFloat(sample.CPUFrequencyMHz)
	case "memory_percent":
		return formatFloat(sample.MemoryPercent)
	case "memory_available_gb":
		return formatFloat(sample.MemoryAvailGB)
	case "disk_read_mb_per_s":
		return formatFloat(sample.DiskReadMBs)
	case "disk_write_mb_per_s":
		return formatFloat(sample.DiskWriteMBs)
	case "network_sent_mb_per_s":
		return formatFloat(sample.NetworkSentMBs)
	case "network_recv_mb_per_s":
		return formatFloat(sample.NetworkRecvMBs)
	default:
		return ""
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
