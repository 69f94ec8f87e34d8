package model

import (
	"fmt"
	"time"
)

// Tier is the storage state of a training sample.
type Tier string

const (
	TierHot  Tier = "hot"
	TierCold Tier = "cold"
)

// FailurePattern labels the dominant cause of a failed deployment.
type FailurePattern string

const (
	PatternCriticalTests FailurePattern = "critical_test_failures"
	PatternHighSeverity  FailurePattern = "high_severity_failures"
	PatternRegression    FailurePattern = "baseline_regression"
	PatternHighRisk      FailurePattern = "high_risk_weight"
	PatternUnknown       FailurePattern = "unknown"
)

// SamplePredictions holds what each predictor said at decision time. A nil
// field means that predictor was unavailable.
type SamplePredictions struct {
	Heuristic   *float64 `json:"heuristic,omitempty"`
	Primary     *float64 `json:"primary,omitempty"`
	Sequence    *float64 `json:"sequence,omitempty"`
	MultiHead   *float64 `json:"multi_head,omitempty"`
	Uncertainty *float64 `json:"uncertainty,omitempty"`
}

// Get returns the stored prediction for name.
func (p SamplePredictions) Get(name PredictorName) (float64, bool) {
	var v *float64
	switch name {
	case PredictorHeuristic:
		v = p.Heuristic
	case PredictorPrimary:
		v = p.Primary
	case PredictorSequence:
		v = p.Sequence
	case PredictorMultiHead:
		v = p.MultiHead
	case PredictorUncertainty:
		v = p.Uncertainty
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// TrainingSample is one recorded decision and its observed outcome.
type TrainingSample struct {
	ID               string             `json:"id"`
	Timestamp        time.Time          `json:"timestamp"`
	Fingerprint      string             `json:"fingerprint"`
	Features         map[string]float64 `json:"features"`
	Predictions      SamplePredictions  `json:"predictions"`
	FinalProbability float64            `json:"final_probability"`
	Confidence       float64            `json:"confidence"`
	Success          bool               `json:"success"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
	Checksum         string             `json:"checksum,omitempty"`
}

// DedupKey identifies a sample across peers: second-resolution timestamp
// plus decision fingerprint.
func (s TrainingSample) DedupKey() string {
	return DedupKey(s.Timestamp, s.Fingerprint)
}

// DedupKey formats the cross-peer identity of a sample.
func DedupKey(ts time.Time, fingerprint string) string {
	return fmt.Sprintf("%d:%s", ts.UTC().Unix(), fingerprint)
}

// FailureIndicator is 1 for a failed deployment and 0 for a success.
func (s TrainingSample) FailureIndicator() float64 {
	if s.Success {
		return 0
	}
	return 1
}

// SampleFromResult records a fusion decision and its outcome.
func SampleFromResult(fv FeatureVector, r FusionResult, confidence float64, success bool, at time.Time) TrainingSample {
	s := TrainingSample{
		Timestamp:        at.UTC().Truncate(time.Millisecond),
		Fingerprint:      fv.Fingerprint(),
		Features:         fv.Map(),
		FinalProbability: Clamp01(r.FinalProbability),
		Confidence:       ClampRange(confidence, 0, 100),
		Success:          success,
	}
	pick := func(name PredictorName) *float64 {
		if v, ok := r.Prediction(name); ok {
			return &v
		}
		return nil
	}
	s.Predictions = SamplePredictions{
		Heuristic: pick(PredictorHeuristic),
		Primary:   pick(PredictorPrimary),
		Sequence:  pick(PredictorSequence),
		MultiHead: pick(PredictorMultiHead),
	}
	if r.Uncertainty != nil && !r.Uncertainty.Fallback {
		u := r.Uncertainty.Mean
		s.Predictions.Uncertainty = &u
	}
	return s
}

// PatternCount is a failure pattern and how often it occurred.
type PatternCount struct {
	Pattern FailurePattern `json:"pattern"`
	Count   int            `json:"count"`
}

// RollingWindowStats summarizes the most recent samples.
type RollingWindowStats struct {
	Window             int            `json:"window"`
	Samples            int            `json:"samples"`
	SuccessRate        float64        `json:"success_rate"`
	AverageConfidence  float64        `json:"average_confidence"`
	TopFailurePatterns []PatternCount `json:"top_failure_patterns"`
	Oldest             time.Time      `json:"oldest,omitzero"`
	Newest             time.Time      `json:"newest,omitzero"`
}

const (
	// DefaultSuccessRate is reported when no samples exist.
	DefaultSuccessRate = 0.5
	// DefaultAverageConfidence is reported when no samples exist.
	DefaultAverageConfidence = 75.0
)
