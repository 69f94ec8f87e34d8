// Package calibrate recomputes the fusion weights from recorded outcomes.
package calibrate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/model"
)

const (
	// DefaultWindow is how many recent samples a calibration uses.
	DefaultWindow = 50
	// DefaultAccuracy stands in for a predictor with no recorded predictions.
	DefaultAccuracy = 0.5
)

// Predictors is the order accuracies are reported and normalized in.
var Predictors = []model.PredictorName{
	model.PredictorPrimary,
	model.PredictorSequence,
	model.PredictorMultiHead,
	model.PredictorHeuristic,
	model.PredictorUncertainty,
}

// WeightStore is the slice of the history store calibration needs.
type WeightStore interface {
	LoadLast(ctx context.Context, n int) ([]model.TrainingSample, error)
	Weights(ctx context.Context) (model.FusionWeights, error)
	SaveWeights(ctx context.Context, w model.FusionWeights) error
}

// PredictorAccuracy is one predictor's mean accuracy over the window.
type PredictorAccuracy struct {
	Predictor   model.PredictorName `json:"predictor"`
	Mean        float64             `json:"mean"`
	Predictions int                 `json:"predictions"`
}

// Result reports a calibration run. Weights is only meaningful when
// Updated is true.
type Result struct {
	SamplesUsed int                 `json:"samples_used"`
	Updated     bool                `json:"updated"`
	Reason      string              `json:"reason"`
	Accuracy    []PredictorAccuracy `json:"accuracy,omitempty"`
	Previous    model.FusionWeights `json:"previous"`
	Weights     model.FusionWeights `json:"weights"`
}

// Engine runs calibrations against a store.
type Engine struct {
	store  WeightStore
	window int
	now    func() time.Time
}

// NewEngine creates an engine. window <= 0 uses DefaultWindow.
func NewEngine(store WeightStore, window int) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{store: store, window: window, now: time.Now}
}

// Window returns the default window size.
func (e *Engine) Window() int { return e.window }

// Accuracy computes each predictor's mean accuracy 1 - |prediction - failure|
// over the samples that recorded a prediction from it.
func Accuracy(samples []model.TrainingSample) []PredictorAccuracy {
	out := make([]PredictorAccuracy, len(Predictors))
	for i, name := range Predictors {
		var sum float64
		var n int
		for _, s := range samples {
			p, ok := s.Predictions.Get(name)
			if !ok || math.IsNaN(p) || math.IsInf(p, 0) {
				continue
			}
			sum += 1 - math.Abs(model.Clamp01(p)-s.FailureIndicator())
			n++
		}
		acc := PredictorAccuracy{Predictor: name, Mean: DefaultAccuracy, Predictions: n}
		if n > 0 {
			acc.Mean = sum / float64(n)
		}
		out[i] = acc
	}
	return out
}

// WeightsFromAccuracy normalizes the accuracies into a weight record. If
// every accuracy is zero the weights are split evenly.
func WeightsFromAccuracy(acc []PredictorAccuracy) model.FusionWeights {
	var total float64
	for _, a := range acc {
		total += a.Mean
	}

	share := func(name model.PredictorName) float64 {
		for _, a := range acc {
			if a.Predictor == name {
				if total <= 0 {
					return 1 / float64(len(acc))
				}
				return a.Mean / total
			}
		}
		return 0
	}

	return model.FusionWeights{
		Primary:     share(model.PredictorPrimary),
		Sequence:    share(model.PredictorSequence),
		MultiHead:   share(model.PredictorMultiHead),
		Heuristic:   share(model.PredictorHeuristic),
		Uncertainty: share(model.PredictorUncertainty),
	}
}

// Recalibrate rewrites the fusion weights from the newest window samples.
// window <= 0 uses the engine default. With no samples nothing is written
// and the result says so.
func (e *Engine) Recalibrate(ctx context.Context, window int) (Result, error) {
	if window <= 0 {
		window = e.window
	}
	log := zap.L().With(zap.String("component", "calibrate.engine"), zap.Int("window", window))

	samples, err := e.store.LoadLast(ctx, window)
	if err != nil {
		return Result{}, eris.Wrap(err, "calibrate: load samples")
	}

	prev, err := e.store.Weights(ctx)
	if err != nil {
		return Result{}, eris.Wrap(err, "calibrate: read weights")
	}

	res := Result{SamplesUsed: len(samples), Previous: prev, Weights: prev}
	if len(samples) == 0 {
		res.Reason = "no training samples available; weights unchanged"
		log.Info("calibrate: nothing to do", zap.String("reason", res.Reason))
		return res, nil
	}

	res.Accuracy = Accuracy(samples)
	next := WeightsFromAccuracy(res.Accuracy)
	next.Version = prev.Version + 1
	next.LastUpdated = e.now().UTC()
	next.BasedOnSamples = len(samples)

	if err := e.store.SaveWeights(ctx, next); err != nil {
		return Result{}, eris.Wrap(err, "calibrate: save weights")
	}

	res.Weights = next
	res.Updated = true
	res.Reason = fmt.Sprintf("recalibrated from %d samples (version %d -> %d)", len(samples), prev.Version, next.Version)

	fields := []zap.Field{zap.Int("samples", len(samples)), zap.Int("version", next.Version)}
	for _, a := range res.Accuracy {
		fields = append(fields, zap.Float64(string(a.Predictor), a.Mean))
	}
	log.Info("calibrate: weights updated", fields...)
	return res, nil
}
