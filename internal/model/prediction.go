package model

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PredictorName identifies one member of the ensemble.
type PredictorName string

const (
	PredictorHeuristic   PredictorName = "heuristic"
	PredictorPrimary     PredictorName = "primary"
	PredictorSequence    PredictorName = "sequence"
	PredictorMultiHead   PredictorName = "multi_head"
	PredictorUncertainty PredictorName = "uncertainty"
)

// PredictorOutput is one predictor's contribution to a decision. Value is a
// failure probability in [0,1] and is meaningful only when Available is true.
type PredictorOutput struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"`
}

// HeadOutputs are the four heads of the multi-head predictor. Only
// DeploymentSuccess participates in fusion.
type HeadOutputs struct {
	DeploymentSuccess float64 `json:"deployment_success"`
	PerformanceRisk   float64 `json:"performance_risk"`
	SecurityRisk      float64 `json:"security_risk"`
	DowntimeRisk      float64 `json:"downtime_risk"`
}

// Clamped returns a copy with every head clamped to [0,1].
func (h HeadOutputs) Clamped() HeadOutputs {
	return HeadOutputs{
		DeploymentSuccess: Clamp01(h.DeploymentSuccess),
		PerformanceRisk:   Clamp01(h.PerformanceRisk),
		SecurityRisk:      Clamp01(h.SecurityRisk),
		DowntimeRisk:      Clamp01(h.DowntimeRisk),
	}
}

// FailureProbability is the multi-head contribution to fusion.
func (h HeadOutputs) FailureProbability() float64 {
	return Clamp01(1 - Clamp01(h.DeploymentSuccess))
}

// UncertaintyEstimate summarizes repeated stochastic inference.
type UncertaintyEstimate struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	CILow    float64 `json:"ci_low"`
	CIHigh   float64 `json:"ci_high"`
	Samples  int     `json:"samples"`
	Fallback bool    `json:"fallback"`
}

// FusionWeights is the persisted, versioned weight record. The four
// prediction weights drive fusion when every predictor is available;
// Uncertainty records the calibrated trust in the uncertainty estimator.
type FusionWeights struct {
	Primary        float64   `json:"primary"`
	Sequence       float64   `json:"sequence"`
	MultiHead      float64   `json:"multi_head"`
	Heuristic      float64   `json:"heuristic"`
	Uncertainty    float64   `json:"uncertainty"`
	Version        int       `json:"version"`
	LastUpdated    time.Time `json:"last_updated"`
	BasedOnSamples int       `json:"based_on_samples"`
}

// DefaultFusionWeights returns the weights used before any calibration.
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{
		Primary:   0.30,
		Sequence:  0.20,
		MultiHead: 0.30,
		Heuristic: 0.20,
	}
}

// PredictionSum is the sum of the four prediction weights.
func (w FusionWeights) PredictionSum() float64 {
	return w.Primary + w.Sequence + w.MultiHead + w.Heuristic
}

// Sum is the sum of all five weights.
func (w FusionWeights) Sum() float64 {
	return w.PredictionSum() + w.Uncertainty
}

// Normalized returns the weights with the four prediction weights rescaled
// to sum to 1. A record with no usable mass falls back to the defaults.
func (w FusionWeights) Normalized() FusionWeights {
	out := w
	sum := w.PredictionSum()
	if w.Validate() != nil || sum <= 0 {
		d := DefaultFusionWeights()
		out.Primary, out.Sequence, out.MultiHead, out.Heuristic = d.Primary, d.Sequence, d.MultiHead, d.Heuristic
		return out
	}
	out.Primary = w.Primary / sum
	out.Sequence = w.Sequence / sum
	out.MultiHead = w.MultiHead / sum
	out.Heuristic = w.Heuristic / sum
	return out
}

// Validate checks that every weight is a finite non-negative number.
func (w FusionWeights) Validate() error {
	var errs []string
	check := func(name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, name+" is not finite")
		} else if v < 0 {
			errs = append(errs, name+" is negative")
		}
	}
	check("primary", w.Primary)
	check("sequence", w.Sequence)
	check("multi_head", w.MultiHead)
	check("heuristic", w.Heuristic)
	check("uncertainty", w.Uncertainty)
	if len(errs) > 0 {
		return eris.Errorf("model: invalid fusion weights: %s", strings.Join(errs, "; "))
	}
	return nil
}

// WeightSet is the per-decision weighting actually applied by fusion. Each
// selected set sums to 1.
type WeightSet struct {
	Primary   float64 `json:"primary"`
	Sequence  float64 `json:"sequence"`
	MultiHead float64 `json:"multi_head"`
	Heuristic float64 `json:"heuristic"`
}

// Sum returns the total weight.
func (s WeightSet) Sum() float64 {
	return s.Primary + s.Sequence + s.MultiHead + s.Heuristic
}

// FusionVariant distinguishes the full and simple fusion rules.
type FusionVariant string

const (
	VariantFull   FusionVariant = "full"
	VariantSimple FusionVariant = "simple"
)

// FusionResult is the outcome of one decision.
type FusionResult struct {
	Variant               FusionVariant                     `json:"variant"`
	Predictions           map[PredictorName]PredictorOutput `json:"predictions"`
	Heads                 *HeadOutputs                      `json:"heads,omitempty"`
	Uncertainty           *UncertaintyEstimate              `json:"uncertainty,omitempty"`
	WeightsUsed           WeightSet                         `json:"weights_used"`
	WeightsVersion        int                               `json:"weights_version"`
	UncertaintyAdjustment float64                           `json:"uncertainty_adjustment"`
	FinalProbability      float64                           `json:"final_probability"`
	Fingerprint           string                            `json:"fingerprint"`
	Trace                 []string                          `json:"trace,omitempty"`
}

// Prediction returns the output for name and whether it was available.
func (r FusionResult) Prediction(name PredictorName) (float64, bool) {
	out, ok := r.Predictions[name]
	if !ok || !out.Available {
		return 0, false
	}
	return out.Value, true
}
