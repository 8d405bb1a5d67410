package sampler

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/pkg/types"
)

// Column aliases accepted in replay headers. The short names are the
// historical export format; the long names are this engine's own samples log,
// so a file we wrote can be replayed back unchanged.
var replayAliases = map[string]string{
	"cpu_percent":           "cpu_percent",
	"cpu_frequency":         "cpu_frequency_mhz",
	"cpu_frequency_mhz":     "cpu_frequency_mhz",
	"memory_percent":        "memory_percent",
	"memory_available_gb":   "memory_available_gb",
	"disk_read_mb":          "disk_read_mb_per_s",
	"disk_read_mb_per_s":    "disk_read_mb_per_s",
	"disk_write_mb":         "disk_write_mb_per_s",
	"disk_write_mb_per_s":   "disk_write_mb_per_s",
	"network_sent_mb":       "network_sent_mb_per_s",
	"network_sent_mb_per_s": "network_sent_mb_per_s",
	"network_recv_mb":       "network_recv_mb_per_s",
	"network_recv_mb_per_s": "network_recv_mb_per_s",
	"timestamp":             "timestamp",
}

// CanonicalColumn resolves a replay header name to its canonical engine
// column, or false for columns the engine does not know.
func CanonicalColumn(name string) (string, bool) {
	canonical, ok := replayAliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

var replayRequired = []string{
	"cpu_percent",
	"memory_percent",
	"disk_read_mb_per_s",
	"network_sent_mb_per_s",
}

// ReplaySource yields samples from an ordered historical CSV instead of live
// counters. Rates are taken as-is from the input; rows are emitted without
// sleeping between them.
type ReplaySource struct {
	logger *zap.Logger

	file    *os.File
	reader  *csv.Reader
	columns map[string]int

	period  time.Duration
	start   time.Time
	rowNum  int
	lastTS  time.Time
	header  []string
	rawPath string
}

// NewReplaySource opens the input file and validates its header. The period
// paces synthesized timestamps when the file carries no timestamp column;
// start anchors them.
func NewReplaySource(path string, period time.Duration, start time.Time, logger *zap.Logger) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sampler: open replay input: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sampler: read replay header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := replayAliases[key]; ok {
			columns[canonical] = i
		}
	}

	var missing []string
	for _, name := range replayRequired {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		f.Close()
		return nil, fmt.Errorf("sampler: replay input %s missing required columns: %s",
			path, strings.Join(missing, ", "))
	}

	return &ReplaySource{
		logger:  logger,
		file:    f,
		reader:  r,
		columns: columns,
		period:  period,
		start:   start,
		header:  header,
		rawPath: path,
	}, nil
}

// Header returns the input file's column names in file order.
func (s *ReplaySource) Header() []string {
	return append([]string(nil), s.header...)
}

// Next returns the next row as a sample. It returns ErrExhausted at the end
// of the file. Malformed rows are skipped with a warning.
func (s *ReplaySource) Next(ctx context.Context) (types.MetricSample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.MetricSample{}, err
		}

		record, err := s.reader.Read()
		if err == io.EOF {
			return types.MetricSample{}, ErrExhausted
		}
		if err != nil {
			s.logger.Warn("skipping malformed replay row",
				zap.String("path", s.rawPath),
				zap.Int("row", s.rowNum+1),
				zap.Error(err))
			s.rowNum++
			continue
		}

		sample := s.parseRow(record)
		s.rowNum++
		return sample, nil
	}
}

func (s *ReplaySource) parseRow(record []string) types.MetricSample {
	sample := types.MetricSample{
		CPUPercent:      s.field(record, "cpu_percent"),
		CPUFrequencyMHz: s.field(record, "cpu_frequency_mhz"),
		MemoryPercent:   s.field(record, "memory_percent"),
		MemoryAvailGB:   s.field(record, "memory_available_gb"),
		DiskReadMBs:     s.field(record, "disk_read_mb_per_s"),
		DiskWriteMBs:    s.field(record, "disk_write_mb_per_s"),
		NetworkSentMBs:  s.field(record, "network_sent_mb_per_s"),
		NetworkRecvMBs:  s.field(record, "network_recv_mb_per_s"),
	}

	ts, ok := s.timestamp(record)
	if !ok {
		ts = s.start.Add(time.Duration(s.rowNum) * s.period)
	}

	// Timestamps must stay strictly increasing for downstream consumers even
	// when the input repeats or reorders them.
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = ts
	sample.Timestamp = ts

	return sample
}

func (s *ReplaySource) field(record []string, name string) float64 {
	idx, ok := s.columns[name]
	if !ok || idx >= len(record) {
		return 0
	}
	raw := strings.TrimSpace(record[idx])
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func (s *ReplaySource) timestamp(record []string) (time.Time, bool) {
	idx, ok := s.columns["timestamp"]
	if !ok || idx >= len(record) {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(record[idx])
	if raw == "" {
		return time.Time{}, false
	}

	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true
	}
	if unix, err := strconv.ParseFloat(raw, 64); err == nil {
		sec := int64(unix)
		nsec := int64((unix - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec), true
	}

	return time.Time{}, false
}

// Close closes the input file.
func (s *ReplaySource) Close() error {
	return s.file.Close()
}
