package calibrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskfusion/internal/model"
)

func ptr(v float64) *float64 { return &v }

func outcome(success bool, preds model.SamplePredictions) model.TrainingSample {
	return model.TrainingSample{Success: success, Predictions: preds}
}

func TestAccuracy(t *testing.T) {
	samples := []model.TrainingSample{
		// Failure: indicator 1.
		outcome(false, model.SamplePredictions{Primary: ptr(0.8), Heuristic: ptr(0.5), Sequence: ptr(0.9)}),
		// Success: indicator 0.
		outcome(true, model.SamplePredictions{Primary: ptr(0.2), Heuristic: ptr(0.5)}),
	}

	acc := Accuracy(samples)
	require.Len(t, acc, 5)

	byName := map[model.PredictorName]PredictorAccuracy{}
	for _, a := range acc {
		byName[a.Predictor] = a
	}
	assert.InDelta(t, 0.8, byName[model.PredictorPrimary].Mean, 1e-9)
	assert.Equal(t, 2, byName[model.PredictorPrimary].Predictions)
	assert.InDelta(t, 0.5, byName[model.PredictorHeuristic].Mean, 1e-9)
	assert.InDelta(t, 0.9, byName[model.PredictorSequence].Mean, 1e-9)
	assert.Equal(t, 1, byName[model.PredictorSequence].Predictions)
	assert.Equal(t, DefaultAccuracy, byName[model.PredictorMultiHead].Mean)
	assert.Zero(t, byName[model.PredictorMultiHead].Predictions)
	assert.Equal(t, DefaultAccuracy, byName[model.PredictorUncertainty].Mean)
}

func TestWeightsFromAccuracy_SumsToOne(t *testing.T) {
	w := WeightsFromAccuracy([]PredictorAccuracy{
		{Predictor: model.PredictorPrimary, Mean: 0.8},
		{Predictor: model.PredictorSequence, Mean: 0.9},
		{Predictor: model.PredictorMultiHead, Mean: 0.5},
		{Predictor: model.PredictorHeuristic, Mean: 0.5},
		{Predictor: model.PredictorUncertainty, Mean: 0.5},
	})
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	assert.InDelta(t, 0.8/3.2, w.Primary, 1e-9)
	assert.InDelta(t, 0.9/3.2, w.Sequence, 1e-9)
	assert.InDelta(t, 0.5/3.2, w.Uncertainty, 1e-9)
}

func TestWeightsFromAccuracy_AllZero(t *testing.T) {
	acc := make([]PredictorAccuracy, len(Predictors))
	for i, p := range Predictors {
		acc[i] = PredictorAccuracy{Predictor: p}
	}
	w := WeightsFromAccuracy(acc)
	assert.InDelta(t, 0.2, w.Primary, 1e-9)
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
}

func TestRecalibrate_EmptyHistoryDoesNotWrite(t *testing.T) {
	st := new(mockStore)
	prev := model.DefaultFusionWeights()
	prev.Version = 7
	st.On("LoadLast", mock.Anything, 50).Return([]model.TrainingSample{}, nil)
	st.On("Weights", mock.Anything).Return(prev, nil)

	res, err := NewEngine(st, 0).Recalibrate(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.Zero(t, res.SamplesUsed)
	assert.Contains(t, res.Reason, "no training samples")
	assert.Equal(t, 7, res.Weights.Version)
	st.AssertNotCalled(t, "SaveWeights", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestRecalibrate_PersistsNextVersion(t *testing.T) {
	st := new(mockStore)
	prev := model.DefaultFusionWeights()
	prev.Version = 2
	samples := []model.TrainingSample{
		outcome(false, model.SamplePredictions{Primary: ptr(0.9), Heuristic: ptr(0.6)}),
		outcome(true, model.SamplePredictions{Primary: ptr(0.1), Heuristic: ptr(0.4)}),
		outcome(true, model.SamplePredictions{Primary: ptr(0.2), Heuristic: ptr(0.5)}),
	}
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	st.On("LoadLast", mock.Anything, 3).Return(samples, nil)
	st.On("Weights", mock.Anything).Return(prev, nil)
	st.On("SaveWeights", mock.Anything, mock.MatchedBy(func(w model.FusionWeights) bool {
		return w.Version == 3 && w.BasedOnSamples == 3 && w.LastUpdated.Equal(now) && w.Primary > w.Heuristic
	})).Return(nil)

	e := NewEngine(st, 50)
	e.now = func() time.Time { return now }

	res, err := e.Recalibrate(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, 3, res.SamplesUsed)
	assert.Equal(t, 2, res.Previous.Version)
	assert.Equal(t, 3, res.Weights.Version)
	assert.InDelta(t, 1.0, res.Weights.Sum(), 1e-9)
	st.AssertExpectations(t)
}

func TestRecalibrate_Errors(t *testing.T) {
	t.Run("load", func(t *testing.T) {
		st := new(mockStore)
		st.On("LoadLast", mock.Anything, 50).Return(nil, errors.New("disk"))
		_, err := NewEngine(st, 0).Recalibrate(context.Background(), 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load samples")
	})

	t.Run("save", func(t *testing.T) {
		st := new(mockStore)
		st.On("LoadLast", mock.Anything, 50).Return([]model.TrainingSample{outcome(true, model.SamplePredictions{})}, nil)
		st.On("Weights", mock.Anything).Return(model.DefaultFusionWeights(), nil)
		st.On("SaveWeights", mock.Anything, mock.Anything).Return(errors.New("locked"))
		_, err := NewEngine(st, 0).Recalibrate(context.Background(), 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "save weights")
	})
}
