package predictor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskfusion/internal/model"
	"github.com/sells-group/riskfusion/internal/resilience"
)

func TestResolve_NilLoader(t *testing.T) {
	c := Resolve[Predictor](context.Background(), NewGuard(nil, 0), model.PredictorPrimary, nil)
	assert.False(t, c.Available())
	assert.Equal(t, "not configured", c.Reason())
	c.Release()
}

func TestResolve_TypedNilLoader(t *testing.T) {
	var l *RemoteLoader
	c := Resolve[Predictor](context.Background(), NewGuard(nil, 0), model.PredictorPrimary, l)
	assert.False(t, c.Available())
}

func TestResolve_NotAvailable(t *testing.T) {
	l := &fakeLoader{available: false, handle: &fakePredictor{values: []float64{0.5}}}
	c := Resolve[Predictor](context.Background(), NewGuard(nil, 0), model.PredictorSequence, l)
	assert.False(t, c.Available())
	assert.Equal(t, int32(0), l.loads.Load())
}

func TestResolve_LoadError(t *testing.T) {
	l := &fakeLoader{available: true, err: errors.New("weights file missing")}
	c := Resolve[Predictor](context.Background(), NewGuard(nil, 0), model.PredictorPrimary, l)
	assert.False(t, c.Available())
	assert.Contains(t, c.Reason(), "weights file missing")
}

func TestResolve_Timeout(t *testing.T) {
	h := &fakePredictor{values: []float64{0.5}}
	l := &fakeLoader{available: true, handle: h, delay: 200 * time.Millisecond}
	c := Resolve[Predictor](context.Background(), NewGuard(nil, 20*time.Millisecond), model.PredictorPrimary, l)
	assert.False(t, c.Available())
	assert.Contains(t, c.Reason(), "timed out")

	assert.Eventually(t, h.closed.Load, time.Second, 10*time.Millisecond, "late handle should be closed")
}

func TestResolve_AvailableAndRelease(t *testing.T) {
	h := &fakePredictor{values: []float64{0.5}}
	c := Resolve[Predictor](context.Background(), NewGuard(nil, 0), model.PredictorPrimary, &fakeLoader{available: true, handle: h})
	require.True(t, c.Available())
	assert.Equal(t, model.PredictorPrimary, c.Name())

	c.Release()
	assert.True(t, h.closed.Load())
}

func TestResolve_OpenBreakerSkipsLoad(t *testing.T) {
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, CoolDown: time.Minute})
	g := NewGuard(breakers, 0)
	l := &fakeLoader{available: true, err: errors.New("boom")}

	first := Resolve[Predictor](context.Background(), g, model.PredictorPrimary, l)
	assert.False(t, first.Available())
	assert.Equal(t, resilience.BreakerOpen, breakers.Get(string(model.PredictorPrimary)).State())

	second := Resolve[Predictor](context.Background(), g, model.PredictorPrimary, l)
	assert.False(t, second.Available())
	assert.Contains(t, second.Reason(), "circuit breaker is open")
	assert.Equal(t, int32(1), l.loads.Load())
}

func TestCapability_CheckShape(t *testing.T) {
	h := &fakePredictor{values: []float64{0.5}, inputs: model.CoreFeatureNames}
	c := Available[Predictor](model.PredictorPrimary, h)

	assert.NoError(t, c.CheckShape(coreVector(nil)))

	long, err := model.FeatureVectorFromMap(model.DefaultFeatureNames, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, c.CheckShape(long), model.ErrShapeMismatch)

	assert.NoError(t, Unavailable[Predictor](model.PredictorPrimary, "x").CheckShape(long))
}

func TestPredictProbability_RecoversPanic(t *testing.T) {
	c := Available[Predictor](model.PredictorPrimary, &fakePredictor{panics: true})
	_, err := PredictProbability(context.Background(), NewGuard(nil, 0), c, coreVector(nil), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestPredictProbability_ClampsAndRejectsNaN(t *testing.T) {
	g := NewGuard(nil, 0)

	v, err := PredictProbability(context.Background(), g, Available[Predictor](model.PredictorPrimary, &fakePredictor{values: []float64{1.7}}), coreVector(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	nan := math.NaN()
	_, err = PredictProbability(context.Background(), g, Available[Predictor](model.PredictorPrimary, &fakePredictor{values: []float64{nan}}), coreVector(nil), nil)
	assert.Error(t, err)
}

func TestPredictProbability_Unavailable(t *testing.T) {
	_, err := PredictProbability(context.Background(), NewGuard(nil, 0), Unavailable[Predictor](model.PredictorSequence, "not loaded"), coreVector(nil), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loaded")
}
