// Package fusion combines the ensemble's predictions into one calibrated
// failure probability per deployment decision.
package fusion

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/model"
	"github.com/sells-group/riskfusion/internal/predictor"
)

// Loaders are the optional ensemble members. Any of them may be nil. A nil
// Uncertainty loader resamples the primary predictor.
type Loaders struct {
	Primary     predictor.Loader[predictor.Predictor]
	Sequence    predictor.Loader[predictor.Predictor]
	MultiHead   predictor.Loader[predictor.MultiHead]
	Uncertainty predictor.Loader[predictor.Predictor]
}

// Request is one fusion decision. Weights is the persisted weight record the
// caller read for this decision; a zero value uses the defaults.
type Request struct {
	Features model.FeatureVector
	History  []model.TrainingSample
	Weights  model.FusionWeights
}

// Engine runs fusion decisions. It is safe for concurrent use; every
// decision opens and releases its own predictor handles.
type Engine struct {
	loaders   Loaders
	guard     *predictor.Guard
	estimator *predictor.Estimator
}

// NewEngine creates an engine. A nil guard or estimator gets defaults.
func NewEngine(loaders Loaders, guard *predictor.Guard, estimator *predictor.Estimator) *Engine {
	if guard == nil {
		guard = predictor.NewGuard(nil, 0)
	}
	if estimator == nil {
		estimator = predictor.NewEstimator(guard, 0)
	}
	return &Engine{loaders: loaders, guard: guard, estimator: estimator}
}

// decision collects the per-decision state shared by both variants.
type decision struct {
	result model.FusionResult
	log    *zap.Logger
}

func newDecision(variant model.FusionVariant, fv model.FeatureVector) *decision {
	fp := fv.Fingerprint()
	return &decision{
		result: model.FusionResult{
			Variant:     variant,
			Predictions: make(map[model.PredictorName]model.PredictorOutput, 5),
			Fingerprint: fp,
		},
		log: zap.L().With(
			zap.String("component", "fusion.engine"),
			zap.String("variant", string(variant)),
			zap.String("fingerprint", fp),
		),
	}
}

func (d *decision) tracef(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.result.Trace = append(d.result.Trace, msg)
	d.log.Debug(msg)
}

func (d *decision) available(name model.PredictorName, v float64) {
	d.result.Predictions[name] = model.PredictorOutput{Value: v, Available: true}
}

func (d *decision) unavailable(name model.PredictorName, reason string) {
	d.result.Predictions[name] = model.PredictorOutput{Reason: reason}
	d.tracef("%s unavailable: %s", name, reason)
}

// heuristic runs the always-available baseline. Its only error is a shape
// mismatch, which aborts the decision.
func (d *decision) heuristic(fv model.FeatureVector) (float64, error) {
	h, err := predictor.Heuristic(fv)
	if err != nil {
		return 0, eris.Wrap(err, "fusion: heuristic")
	}
	d.available(model.PredictorHeuristic, h)
	return h, nil
}

func (e *Engine) resolvePredictor(ctx context.Context, name model.PredictorName, l predictor.Loader[predictor.Predictor]) predictor.Capability[predictor.Predictor] {
	return predictor.Resolve[predictor.Predictor](ctx, e.guard, name, l)
}

// single runs one single-output predictor, recording an unavailable output
// on failure.
func (e *Engine) single(ctx context.Context, d *decision, c predictor.Capability[predictor.Predictor], fv model.FeatureVector, history []model.TrainingSample) (float64, bool) {
	if !c.Available() {
		d.unavailable(c.Name(), c.Reason())
		return 0, false
	}
	v, err := predictor.PredictProbability(ctx, e.guard, c, fv, history)
	if err != nil {
		d.unavailable(c.Name(), err.Error())
		return 0, false
	}
	d.available(c.Name(), v)
	return v, true
}

func checkShapes(fv model.FeatureVector, caps ...interface {
	CheckShape(model.FeatureVector) error
	Name() model.PredictorName
}) error {
	for _, c := range caps {
		if err := c.CheckShape(fv); err != nil {
			return eris.Wrapf(err, "fusion: %s", c.Name())
		}
	}
	return nil
}

// Fuse runs the full variant. The only error returned is a feature vector
// shape mismatch; every predictor failure degrades to a smaller weight row
// and is recorded in the result trace.
func (e *Engine) Fuse(ctx context.Context, req Request) (model.FusionResult, error) {
	fv := req.Features
	d := newDecision(model.VariantFull, fv)

	heur, err := d.heuristic(fv)
	if err != nil {
		return model.FusionResult{}, err
	}

	primary := e.resolvePredictor(ctx, model.PredictorPrimary, e.loaders.Primary)
	defer primary.Release()
	sequence := e.resolvePredictor(ctx, model.PredictorSequence, e.loaders.Sequence)
	defer sequence.Release()
	uncertainty := primary
	if e.loaders.Uncertainty != nil {
		uncertainty = e.resolvePredictor(ctx, model.PredictorUncertainty, e.loaders.Uncertainty)
		defer uncertainty.Release()
	}
	multi := predictor.Resolve[predictor.MultiHead](ctx, e.guard, model.PredictorMultiHead, e.loaders.MultiHead)
	defer multi.Release()

	if err := checkShapes(fv, primary, sequence, uncertainty, multi); err != nil {
		return model.FusionResult{}, err
	}

	var avail Availability
	var pVal, sVal, mVal float64
	pVal, avail.Primary = e.single(ctx, d, primary, fv, nil)
	sVal, avail.Sequence = e.single(ctx, d, sequence, fv, req.History)

	if multi.Available() {
		heads, err := predictor.PredictHeads(ctx, e.guard, multi, fv)
		if err != nil {
			d.unavailable(model.PredictorMultiHead, err.Error())
		} else {
			mVal, avail.MultiHead = heads.FailureProbability(), true
			d.available(model.PredictorMultiHead, mVal)
			d.result.Heads = &heads
		}
	} else {
		d.unavailable(model.PredictorMultiHead, multi.Reason())
	}

	est, reason := e.estimator.Estimate(ctx, uncertainty, fv, heur)
	if reason != "" {
		d.tracef("%s", reason)
	} else {
		d.available(model.PredictorUncertainty, est.Mean)
	}
	d.result.Uncertainty = &est

	weights, why := SelectWeights(avail, req.Weights)
	d.tracef("weights: %s", why)

	adj := predictor.RiskAdjustment(est.Variance)
	fused := combine(weights, pVal, sVal, mVal, heur)

	d.result.WeightsUsed = weights
	d.result.WeightsVersion = req.Weights.Version
	d.result.UncertaintyAdjustment = adj
	d.result.FinalProbability = model.Clamp01(fused + adj)

	d.log.Debug("fusion: decision complete",
		zap.Stringer("availability", avail),
		zap.Float64("fused", fused),
		zap.Float64("adjustment", adj),
		zap.Float64("final", d.result.FinalProbability),
	)
	return d.result, nil
}

// FuseSimple runs the simple variant: primary, sequence and heuristic only,
// without the multi-head predictor or uncertainty adjustment.
func (e *Engine) FuseSimple(ctx context.Context, req Request) (model.FusionResult, error) {
	fv := req.Features
	d := newDecision(model.VariantSimple, fv)

	heur, err := d.heuristic(fv)
	if err != nil {
		return model.FusionResult{}, err
	}

	primary := e.resolvePredictor(ctx, model.PredictorPrimary, e.loaders.Primary)
	defer primary.Release()
	sequence := e.resolvePredictor(ctx, model.PredictorSequence, e.loaders.Sequence)
	defer sequence.Release()

	if err := checkShapes(fv, primary, sequence); err != nil {
		return model.FusionResult{}, err
	}

	var avail Availability
	var pVal, sVal float64
	pVal, avail.Primary = e.single(ctx, d, primary, fv, nil)
	sVal, avail.Sequence = e.single(ctx, d, sequence, fv, req.History)

	weights, why := SelectSimpleWeights(avail)
	d.tracef("weights: %s", why)

	d.result.WeightsUsed = weights
	d.result.FinalProbability = model.Clamp01(combine(weights, pVal, sVal, 0, heur))
	return d.result, nil
}
