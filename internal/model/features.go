// Package model defines the shared data types passed between the predictor,
// fusion, history and calibration packages.
package model

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Core feature names. The heuristic predictor reads these seven positions and
// every calibrated model expects them first, in this order.
const (
	FeatureRiskWeight        = "risk_weight"
	FeatureTestImpact        = "test_impact"
	FeatureBaselineStability = "baseline_stability"
	FeatureVolatility        = "volatility"
	FeatureCriticalFailures  = "critical_failures"
	FeatureHighFailures      = "high_failures"
	FeatureRegressions       = "regressions"
)

// CoreFeatureNames is the ordered prefix shared by every feature vector.
var CoreFeatureNames = []string{
	FeatureRiskWeight,
	FeatureTestImpact,
	FeatureBaselineStability,
	FeatureVolatility,
	FeatureCriticalFailures,
	FeatureHighFailures,
	FeatureRegressions,
}

// DefaultFeatureNames is the full shape produced by the deployment feature
// extractor. All values are pre-normalized to [0,1].
var DefaultFeatureNames = append(append([]string(nil), CoreFeatureNames...),
	"files_changed",
	"lines_changed",
	"dependency_changes",
	"time_since_last_deploy",
	"author_experience",
)

// ErrShapeMismatch is returned when a feature vector does not have the length
// or name order a predictor was calibrated against. It is the only error that
// aborts a fusion decision.
var ErrShapeMismatch = eris.New("feature vector shape mismatch")

// FeatureVector is an ordered, named list of normalized numeric features.
// It is immutable once constructed.
type FeatureVector struct {
	names  []string
	values []float64
}

// NewFeatureVector builds a vector from parallel name and value slices.
// NaN and infinite values are replaced with 0.
func NewFeatureVector(names []string, values []float64) (FeatureVector, error) {
	if len(names) != len(values) {
		return FeatureVector{}, eris.Wrapf(ErrShapeMismatch, "model: %d names for %d values", len(names), len(values))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return FeatureVector{}, eris.Wrap(ErrShapeMismatch, "model: empty feature name")
		}
		if seen[n] {
			return FeatureVector{}, eris.Wrapf(ErrShapeMismatch, "model: duplicate feature %q", n)
		}
		seen[n] = true
	}

	fv := FeatureVector{
		names:  append([]string(nil), names...),
		values: make([]float64, len(values)),
	}
	for i, v := range values {
		fv.values[i] = Sanitize(v)
	}
	return fv, nil
}

// FeatureVectorFromMap builds a vector in the given name order, reading
// values from m. Missing names become 0.
func FeatureVectorFromMap(names []string, m map[string]float64) (FeatureVector, error) {
	values := make([]float64, len(names))
	for i, n := range names {
		values[i] = m[n]
	}
	return NewFeatureVector(names, values)
}

// Len returns the number of features.
func (fv FeatureVector) Len() int { return len(fv.values) }

// Names returns a copy of the feature names.
func (fv FeatureVector) Names() []string { return append([]string(nil), fv.names...) }

// Values returns a copy of the feature values.
func (fv FeatureVector) Values() []float64 { return append([]float64(nil), fv.values...) }

// Get returns the value for name.
func (fv FeatureVector) Get(name string) (float64, bool) {
	for i, n := range fv.names {
		if n == name {
			return fv.values[i], true
		}
	}
	return 0, false
}

// Map returns the vector as a name to value map.
func (fv FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(fv.names))
	for i, n := range fv.names {
		m[n] = fv.values[i]
	}
	return m
}

// MatchesShape verifies the vector has exactly the given names in order.
func (fv FeatureVector) MatchesShape(names []string) error {
	if len(names) != len(fv.names) {
		return eris.Wrapf(ErrShapeMismatch, "model: expected %d features, got %d", len(names), len(fv.names))
	}
	for i, n := range names {
		if fv.names[i] != n {
			return eris.Wrapf(ErrShapeMismatch, "model: feature %d is %q, expected %q", i, fv.names[i], n)
		}
	}
	return nil
}

// HasPrefix verifies the vector starts with the given names in order.
func (fv FeatureVector) HasPrefix(names []string) error {
	if len(fv.names) < len(names) {
		return eris.Wrapf(ErrShapeMismatch, "model: expected at least %d features, got %d", len(names), len(fv.names))
	}
	for i, n := range names {
		if fv.names[i] != n {
			return eris.Wrapf(ErrShapeMismatch, "model: feature %d is %q, expected %q", i, fv.names[i], n)
		}
	}
	return nil
}

// Fingerprint is a stable identifier for the decision inputs, used as the
// second half of a training sample's dedup key.
func (fv FeatureVector) Fingerprint() string {
	var b strings.Builder
	for i, n := range fv.names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(formatFloat(fv.values[i]))
	}
	return shortHash([]byte(b.String()))
}

// Sanitize maps NaN and infinities to 0.
func Sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Clamp01 sanitizes v and clamps it to [0,1].
func Clamp01(v float64) float64 {
	return ClampRange(v, 0, 1)
}

// ClampRange sanitizes v and clamps it to [lo,hi].
func ClampRange(v, lo, hi float64) float64 {
	v = Sanitize(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
