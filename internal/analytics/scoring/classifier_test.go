package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostpulse/hostpulse/pkg/types"
)

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		score    float64
		severity types.Severity
		report   bool
	}{
		{-0.8, types.SeverityCritical, true},
		{-0.6, types.SeverityHigh, true},
		{-0.4, types.SeverityMedium, false},
		{-0.1, types.SeverityNormal, false},
		// Band edges: boundaries belong to the milder band.
		{-0.7, types.SeverityHigh, true},
		{-0.5, types.SeverityMedium, false},
		{-0.3, types.SeverityNormal, false},
		{0.2, types.SeverityNormal, false},
	}

	for _, tc := range cases {
		c := Classify(types.MetricSample{}, tc.score)
		assert.Equal(t, tc.severity, c.Severity, "score %v", tc.score)
		assert.Equal(t, tc.report, c.Report, "score %v", tc.score)
	}
}

func TestReasonsFixedOrder(t *testing.T) {
	sample := types.MetricSample{
		CPUPercent:     99,
		MemoryPercent:  95,
		DiskReadMBs:    200,
		NetworkSentMBs: 200,
	}

	reasons := Reasons(sample)
	require.Equal(t, []string{"high CPU", "high memory", "disk burst", "network burst"}, reasons)
}

func TestReasonsIndividualPredicates(t *testing.T) {
	cases := []struct {
		name   string
		sample types.MetricSample
		want   []string
	}{
		{"cpu", types.MetricSample{CPUPercent: 81}, []string{"high CPU"}},
		{"memory", types.MetricSample{MemoryPercent: 80.5}, []string{"high memory"}},
		{"disk read+write sum", types.MetricSample{DiskReadMBs: 30, DiskWriteMBs: 25}, []string{"disk burst"}},
		{"network sent+recv sum", types.MetricSample{NetworkSentMBs: 26, NetworkRecvMBs: 26}, []string{"network burst"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Reasons(tc.sample))
		})
	}
}

func TestReasonsThresholdsAreExclusive(t *testing.T) {
	// Exactly-at-threshold values do not fire.
	sample := types.MetricSample{
		CPUPercent:     80,
		MemoryPercent:  80,
		DiskReadMBs:    25,
		DiskWriteMBs:   25,
		NetworkSentMBs: 50,
	}
	assert.Equal(t, []string{ReasonModelOnly}, Reasons(sample))
}

func TestReasonsModelOnlyFallback(t *testing.T) {
	reasons := Reasons(types.MetricSample{CPUPercent: 10, MemoryPercent: 20})
	require.Equal(t, []string{ReasonModelOnly}, reasons)
}
