// Package predictor defines the contracts for ensemble members, resolves
// them into per-decision capabilities and implements the heuristic and
// uncertainty estimators.
package predictor

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/model"
)

// Handle is an opened predictor that must be released after use.
type Handle interface {
	Close() error
}

// Predictor returns a failure probability for a feature vector.
type Predictor interface {
	Handle
	Predict(ctx context.Context, fv model.FeatureVector) (float64, error)
}

// MultiHead returns the four multi-head outputs for a feature vector.
type MultiHead interface {
	Handle
	PredictHeads(ctx context.Context, fv model.FeatureVector) (model.HeadOutputs, error)
}

// Sampler is implemented by predictors that can draw a stochastic
// prediction, such as a network with dropout kept active at inference.
type Sampler interface {
	Sample(ctx context.Context, fv model.FeatureVector) (float64, error)
}

// Shaped is implemented by predictors calibrated against a fixed feature
// order. A nil or empty result means no constraint.
type Shaped interface {
	InputNames() []string
}

// HistoryAware is implemented by sequence predictors that consume the
// recent outcome history alongside the feature vector.
type HistoryAware interface {
	PredictWithHistory(ctx context.Context, fv model.FeatureVector, history []model.TrainingSample) (float64, error)
}

// Loader opens a predictor handle. Available is a cheap check that must not
// perform inference.
type Loader[P Handle] interface {
	Available(ctx context.Context) bool
	Load(ctx context.Context) (P, error)
}

// Capability is the per-decision view of one predictor: either an opened
// handle or the reason it is unavailable. It is resolved once per decision.
type Capability[P Handle] struct {
	name   model.PredictorName
	handle P
	ok     bool
	reason string
}

// Available wraps an opened handle.
func Available[P Handle](name model.PredictorName, h P) Capability[P] {
	return Capability[P]{name: name, handle: h, ok: true}
}

// Unavailable records why a predictor cannot take part in a decision.
func Unavailable[P Handle](name model.PredictorName, reason string) Capability[P] {
	return Capability[P]{name: name, reason: reason}
}

// Name returns the predictor name.
func (c Capability[P]) Name() model.PredictorName { return c.name }

// Available reports whether the handle can be used.
func (c Capability[P]) Available() bool { return c.ok }

// Handle returns the opened handle.
func (c Capability[P]) Handle() (P, bool) { return c.handle, c.ok }

// Reason explains an unavailable capability.
func (c Capability[P]) Reason() string { return c.reason }

// Release closes the handle. It is safe to call on an unavailable capability.
func (c Capability[P]) Release() {
	if !c.ok {
		return
	}
	if err := c.handle.Close(); err != nil {
		zap.L().Warn("predictor: release failed",
			zap.String("predictor", string(c.name)),
			zap.Error(err),
		)
	}
}

// InputNames returns the handle's calibrated feature order, if any.
func (c Capability[P]) InputNames() []string {
	if !c.ok {
		return nil
	}
	if s, ok := any(c.handle).(Shaped); ok {
		return s.InputNames()
	}
	return nil
}

// CheckShape verifies fv against the handle's calibrated feature order.
// A mismatch is fatal for the decision.
func (c Capability[P]) CheckShape(fv model.FeatureVector) error {
	names := c.InputNames()
	if len(names) == 0 {
		return nil
	}
	return fv.MatchesShape(names)
}

// Resolve opens a predictor through the guard. It never fails: a missing
// loader, a failed availability check, a load error, a timeout, a panic or
// an open breaker all produce an unavailable capability.
func Resolve[P Handle](ctx context.Context, g *Guard, name model.PredictorName, loader Loader[P]) Capability[P] {
	if isNil(loader) {
		return Unavailable[P](name, "not configured")
	}

	avail, err := guardCall(ctx, g, name, func(ctx context.Context) (bool, error) {
		return loader.Available(ctx), nil
	}, nil)
	if err != nil {
		return Unavailable[P](name, "availability check failed: "+err.Error())
	}
	if !avail {
		return Unavailable[P](name, "not available")
	}

	h, err := guardCall(ctx, g, name, loader.Load, func(late P) {
		if !isNil(late) {
			_ = late.Close()
		}
	})
	if err != nil {
		zap.L().Debug("predictor: load failed",
			zap.String("predictor", string(name)),
			zap.Error(err),
		)
		return Unavailable[P](name, "load failed: "+err.Error())
	}
	if isNil(h) {
		return Unavailable[P](name, "load returned no handle")
	}
	return Available(name, h)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
