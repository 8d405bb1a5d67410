package scoring

// Package scoring turns a raw detector score into a severity label, the
// rule-based reasons that fired, and a report/drop decision.
//
// Severity bands (lower score = worse):
//   - score < -0.7          critical
//   - -0.7 <= score < -0.5  high
//   - -0.5 <= score < -0.3  medium
//   - score >= -0.3         normal
//
// Only critical and high anomalies are reported; medium and normal are
// counted and dropped. The band constants are calibrated to the signed
// decision-function convention of the isolation forest and do not move with
// contamination.

import (
	"github.com/hostpulse/hostpulse/pkg/types"
)

// Severity band boundaries on the raw score axis.
const (
	criticalBelow = -0.7
	highBelow     = -0.5
	mediumBelow   = -0.3
)

// Rule predicate thresholds. Rates are MB/s.
const (
	cpuHighPercent    = 80.0
	memoryHighPercent = 80.0
	diskBurstMBs      = 50.0
	networkBurstMBs   = 50.0
)

// ReasonModelOnly marks an anomaly where the model fired but no rule
// predicate did.
const ReasonModelOnly = "model-only"

// Classification is the outcome of post-processing one scored sample.
type Classification struct {
	Severity types.Severity
	Reasons  []string
	// Report is true for critical and high severities only.
	Report bool
}

// Classify maps a raw score to its severity band and assembles the reasons
// that apply to the sample. Reasons are evaluated in fixed order so equal
// samples always produce equal reason lists.
func Classify(sample types.MetricSample, rawScore float64) Classification {
	severity := SeverityForScore(rawScore)
	return Classification{
		Severity: severity,
		Reasons:  Reasons(sample),
		Report:   severity.Reported(),
	}
}

// SeverityForScore maps a raw score to its band.
func SeverityForScore(rawScore float64) types.Severity {
	switch {
	case rawScore < criticalBelow:
		return types.SeverityCritical
	case rawScore < highBelow:
		return types.SeverityHigh
	case rawScore < mediumBelow:
		return types.SeverityMedium
	default:
		return types.SeverityNormal
	}
}

// Reasons evaluates the rule predicates against the sample and collects the
// labels of those that fired. A sample that trips no rule gets the
// model-only marker so a record never carries an empty reason list.
func Reasons(sample types.MetricSample) []string {
	var reasons []string

	if sample.CPUPercent > cpuHighPercent {
		reasons = append(reasons, "high CPU")
	}
	if sample.MemoryPercent > memoryHighPercent {
		reasons = append(reasons, "high memory")
	}
	if sample.DiskReadMBs+sample.DiskWriteMBs > diskBurstMBs {
		reasons = append(reasons, "disk burst")
	}
	if sample.NetworkSentMBs+sample.NetworkRecvMBs > networkBurstMBs {
		reasons = append(reasons, "network burst")
	}

	if len(reasons) == 0 {
		reasons = []string{ReasonModelOnly}
	}
	return reasons
}
