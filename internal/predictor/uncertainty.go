package predictor

import (
	"context"
	"math"

	"github.com/sells-group/riskfusion/internal/model"
)

const (
	// DefaultUncertaintySamples is the number of stochastic draws per estimate.
	DefaultUncertaintySamples = 20

	// FallbackVariance is reported when no stochastic predictor could run.
	FallbackVariance = 0.10
	// FallbackHalfWidth is the fallback confidence interval half-width.
	FallbackHalfWidth = 0.15

	z95 = 1.96

	highVariance       = 0.05
	lowVariance        = 0.02
	highVarianceAdjust = 0.15
	lowVarianceAdjust  = -0.05
)

// Estimator measures prediction spread by repeated stochastic inference.
type Estimator struct {
	guard   *Guard
	samples int
}

// NewEstimator creates an estimator drawing samples predictions per
// estimate; samples <= 0 uses DefaultUncertaintySamples.
func NewEstimator(g *Guard, samples int) *Estimator {
	if samples <= 0 {
		samples = DefaultUncertaintySamples
	}
	return &Estimator{guard: g, samples: samples}
}

// Samples returns the number of draws per estimate.
func (e *Estimator) Samples() int { return e.samples }

// Estimate draws the configured number of predictions and summarizes them.
// If the capability is unavailable or any draw fails, it returns the
// heuristic fallback and a reason.
func (e *Estimator) Estimate(ctx context.Context, c Capability[Predictor], fv model.FeatureVector, heuristic float64) (model.UncertaintyEstimate, string) {
	p, ok := c.Handle()
	if !ok {
		return Fallback(heuristic), "uncertainty estimator unavailable: " + c.Reason()
	}

	draw := p.Predict
	if s, ok := p.(Sampler); ok {
		draw = s.Sample
	}

	values := make([]float64, 0, e.samples)
	for i := 0; i < e.samples; i++ {
		v, err := predictValue(ctx, e.guard, c.Name(), func(ctx context.Context) (float64, error) {
			return draw(ctx, fv)
		})
		if err != nil {
			return Fallback(heuristic), "uncertainty sampling failed: " + err.Error()
		}
		values = append(values, v)
	}
	return Summarize(values), ""
}

// Summarize computes the mean, population variance and 95% interval of
// values, clamped to [0,1].
func Summarize(values []float64) model.UncertaintyEstimate {
	n := float64(len(values))
	if n == 0 {
		return model.UncertaintyEstimate{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	variance := sq / n
	half := z95 * math.Sqrt(variance)

	return model.UncertaintyEstimate{
		Mean:     model.Clamp01(mean),
		Variance: variance,
		CILow:    model.Clamp01(mean - half),
		CIHigh:   model.Clamp01(mean + half),
		Samples:  len(values),
	}
}

// Fallback is the estimate used when stochastic inference is not possible.
func Fallback(heuristic float64) model.UncertaintyEstimate {
	mean := model.Clamp01(heuristic)
	return model.UncertaintyEstimate{
		Mean:     mean,
		Variance: FallbackVariance,
		CILow:    model.Clamp01(mean - FallbackHalfWidth),
		CIHigh:   model.Clamp01(mean + FallbackHalfWidth),
		Fallback: true,
	}
}

// RiskAdjustment maps prediction variance to an additive adjustment of the
// fused probability.
func RiskAdjustment(variance float64) float64 {
	switch {
	case variance > highVariance:
		return highVarianceAdjust
	case variance < lowVariance:
		return lowVarianceAdjust
	default:
		return 0
	}
}
