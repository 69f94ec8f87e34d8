package predictor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskfusion/internal/model"
)

type samplingPredictor struct {
	fakePredictor
	sampled int
}

func (s *samplingPredictor) Sample(ctx context.Context, fv model.FeatureVector) (float64, error) {
	s.sampled++
	return s.fakePredictor.Predict(ctx, fv)
}

func TestEstimator_DrawsExactlyTwentySamples(t *testing.T) {
	h := &fakePredictor{values: []float64{0.4, 0.6}}
	e := NewEstimator(NewGuard(nil, 0), 0)

	est, reason := e.Estimate(context.Background(), Available[Predictor](model.PredictorUncertainty, h), coreVector(nil), 0.9)
	assert.Empty(t, reason)
	assert.Equal(t, 20, h.calls)
	assert.Equal(t, 20, est.Samples)
	assert.False(t, est.Fallback)
	assert.InDelta(t, 0.5, est.Mean, 1e-9)
	assert.InDelta(t, 0.01, est.Variance, 1e-9)
	assert.InDelta(t, 0.5-1.96*0.1, est.CILow, 1e-9)
	assert.InDelta(t, 0.5+1.96*0.1, est.CIHigh, 1e-9)
}

func TestEstimator_PrefersSampler(t *testing.T) {
	s := &samplingPredictor{fakePredictor: fakePredictor{values: []float64{0.3}}}
	e := NewEstimator(NewGuard(nil, 0), 5)

	est, _ := e.Estimate(context.Background(), Available[Predictor](model.PredictorUncertainty, s), coreVector(nil), 0)
	assert.Equal(t, 5, s.sampled)
	assert.InDelta(t, 0.3, est.Mean, 1e-9)
	assert.Equal(t, 0.0, est.Variance)
}

func TestEstimator_FallbackWhenUnavailable(t *testing.T) {
	e := NewEstimator(NewGuard(nil, 0), 0)
	est, reason := e.Estimate(context.Background(), Unavailable[Predictor](model.PredictorUncertainty, "not configured"), coreVector(nil), 0.42)

	assert.Contains(t, reason, "not configured")
	assert.True(t, est.Fallback)
	assert.InDelta(t, 0.42, est.Mean, 1e-9)
	assert.Equal(t, 0.10, est.Variance)
	assert.InDelta(t, 0.27, est.CILow, 1e-9)
	assert.InDelta(t, 0.57, est.CIHigh, 1e-9)
}

func TestEstimator_FallbackOnSampleError(t *testing.T) {
	h := &fakePredictor{err: errors.New("dropout layer missing")}
	e := NewEstimator(NewGuard(nil, 0), 0)
	est, reason := e.Estimate(context.Background(), Available[Predictor](model.PredictorUncertainty, h), coreVector(nil), 0.95)

	assert.Contains(t, reason, "dropout layer missing")
	assert.True(t, est.Fallback)
	assert.Equal(t, 0.95, est.Mean)
	assert.InDelta(t, 0.80, est.CILow, 1e-9)
	assert.Equal(t, 1.0, est.CIHigh)
}

func TestSummarize_IntervalClamped(t *testing.T) {
	est := Summarize([]float64{0, 1, 0, 1})
	assert.InDelta(t, 0.25, est.Variance, 1e-9)
	assert.Equal(t, 0.0, est.CILow)
	assert.Equal(t, 1.0, est.CIHigh)
	require.Equal(t, 4, est.Samples)
}

func TestRiskAdjustment(t *testing.T) {
	tests := []struct {
		variance float64
		want     float64
	}{
		{0.06, 0.15},
		{0.10, 0.15},
		{0.05, 0},
		{0.03, 0},
		{0.02, 0},
		{0.01, -0.05},
		{0, -0.05},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskAdjustment(tt.variance), "variance %v", tt.variance)
	}
}
