package history

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hostpulse/hostpulse/pkg/types"
)

func testSample(i int) types.MetricSample {
	return types.MetricSample{
		Timestamp:      time.Date(2025, 3, 1, 0, 0, i, 0, time.UTC),
		CPUPercent:     10.5,
		MemoryPercent:  20.25,
		MemoryAvailGB:  7.5,
		DiskReadMBs:    0.5,
		NetworkSentMBs: 0.5,
	}
}

func TestSamplesLogHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics_history.csv")
	log, err := NewSamplesLog(path, 16, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, log.Append(Row{Sample: testSample(0)}))
	require.NoError(t, log.Append(Row{Sample: testSample(1), Scored: true, RawScore: -0.61, IsAnomaly: true}))
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, SamplesHeader, rows[0])

	// Cold row: False and a blank score column.
	assert.Equal(t, "2025-03-01T00:00:00Z", rows[1][0])
	assert.Equal(t, "10.5", rows[1][1])
	assert.Equal(t, "False", rows[1][9])
	assert.Equal(t, "", rows[1][10])

	// Scored anomaly row: literal True and the raw score.
	assert.Equal(t, "True", rows[2][9])
	assert.Equal(t, "-0.61", rows[2][10])
}

func TestSamplesLogAppendDuringCloseIsSafe(t *testing.T) {
	// Appenders racing Close must see ErrClosed, never a panic from the
	// queue being torn down underneath them.
	path := filepath.Join(t.TempDir(), "metrics_history.csv")
	log, err := NewSamplesLog(path, 4, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			if err := log.Append(Row{Sample: testSample(i % 60)}); err != nil {
				assert.ErrorIs(t, err, ErrClosed)
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, log.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("appender did not observe the closed log")
	}
}

func TestSamplesLogAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics_history.csv")
	logger := zaptest.NewLogger(t)

	log, err := NewSamplesLog(path, 16, logger)
	require.NoError(t, err)
	require.NoError(t, log.Append(Row{Sample: testSample(0)}))
	require.NoError(t, log.Close())

	// Reopening must append, not rewrite the header.
	log, err = NewSamplesLog(path, 16, logger)
	require.NoError(t, err)
	require.NoError(t, log.Append(Row{Sample: testSample(1)}))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,"), "single header")
}

func TestSamplesLogOrderPreserved(t *testing.T) {
	// Byte order in the file follows append order: the single FIFO writer
	// cannot reorder rows.
	path := filepath.Join(t.TempDir(), "metrics_history.csv")
	log, err := NewSamplesLog(path, 256, zaptest.NewLogger(t))
	require.NoError(t, err)

	const n = 120
	for i := 0; i < n; i++ {
		require.NoError(t, log.Append(Row{Sample: testSample(i)}))
	}
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, n+1)

	var prev time.Time
	for _, row := range rows[1:] {
		ts, err := time.Parse(time.RFC3339Nano, row[0])
		require.NoError(t, err)
		assert.True(t, ts.After(prev), "timestamps ascend in file order")
		prev = ts
	}
}

func TestSamplesLogClosedRejectsAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics_history.csv")
	log, err := NewSamplesLog(path, 16, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	assert.ErrorIs(t, log.Append(Row{Sample: testSample(0)}), ErrClosed)
}

func TestAnomaliesLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalies.jsonl")
	log, err := NewAnomaliesLog(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	record := types.AnomalyRecord{
		Timestamp: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		RawScore:  -0.82,
		Severity:  types.SeverityCritical,
		Reasons:   []string{"high CPU", "high memory"},
		Sample:    types.MetricSample{Timestamp: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), CPUPercent: 99},
	}
	require.NoError(t, log.Append(record))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var got types.AnomalyRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, record.RawScore, got.RawScore)
	assert.Equal(t, record.Severity, got.Severity)
	assert.Equal(t, record.Reasons, got.Reasons)
	assert.Equal(t, 99.0, got.Sample.CPUPercent)
}

func TestAnomaliesLogOnePerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalies.jsonl")
	log, err := NewAnomaliesLog(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(types.AnomalyRecord{
			Timestamp: time.Now(),
			RawScore:  -0.6,
			Severity:  types.SeverityHigh,
			Reasons:   []string{"model-only"},
		}))
	}
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 5)
}
