package predictor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskfusion/internal/model"
	"github.com/sells-group/riskfusion/internal/resilience"
)

// DefaultTimeout bounds a single load or inference call.
const DefaultTimeout = 5 * time.Second

// Guard applies a timeout, a per-predictor circuit breaker and panic
// recovery to every call into an optional predictor.
type Guard struct {
	breakers *resilience.Breakers
	timeout  time.Duration
}

// NewGuard creates a guard. A nil registry disables circuit breaking.
func NewGuard(breakers *resilience.Breakers, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{breakers: breakers, timeout: timeout}
}

// Breakers returns the guard's breaker registry.
func (g *Guard) Breakers() *resilience.Breakers {
	if g == nil {
		return nil
	}
	return g.breakers
}

type outcome[T any] struct {
	val T
	err error
}

// guardCall runs fn under the guard. If the timeout fires first, fn keeps
// running in the background and onLate receives its value when it finishes.
func guardCall[T any](ctx context.Context, g *Guard, name model.PredictorName, fn func(ctx context.Context) (T, error), onLate func(T)) (T, error) {
	if g == nil {
		g = NewGuard(nil, 0)
	}

	run := func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		ch := make(chan outcome[T], 1)
		go func() {
			v, err := recovered(ctx, fn)
			ch <- outcome[T]{val: v, err: err}
		}()

		select {
		case o := <-ch:
			return o.val, o.err
		case <-ctx.Done():
			if onLate != nil {
				go func() {
					if o := <-ch; o.err == nil {
						onLate(o.val)
					}
				}()
			}
			var zero T
			return zero, eris.Wrapf(ctx.Err(), "predictor: %s timed out after %s", name, g.timeout)
		}
	}

	if g.breakers == nil {
		return run(ctx)
	}
	return resilience.ExecuteVal(ctx, g.breakers.Get(string(name)), run)
}

func recovered[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("predictor: panic: %v", r)
		}
	}()
	return fn(ctx)
}

// predictValue runs one guarded inference and validates the result. A
// non-finite output is an error.
func predictValue(ctx context.Context, g *Guard, name model.PredictorName, fn func(ctx context.Context) (float64, error)) (float64, error) {
	v, err := guardCall(ctx, g, name, fn, nil)
	if err != nil {
		return 0, err
	}
	if v != model.Sanitize(v) {
		return 0, eris.Errorf("predictor: %s returned a non-finite value", name)
	}
	return model.Clamp01(v), nil
}

// PredictProbability runs a guarded single-output inference. Sequence
// predictors that accept history receive it.
func PredictProbability(ctx context.Context, g *Guard, c Capability[Predictor], fv model.FeatureVector, history []model.TrainingSample) (float64, error) {
	p, ok := c.Handle()
	if !ok {
		return 0, eris.Errorf("predictor: %s unavailable: %s", c.Name(), c.Reason())
	}
	if ha, ok := p.(HistoryAware); ok && len(history) > 0 {
		return predictValue(ctx, g, c.Name(), func(ctx context.Context) (float64, error) {
			return ha.PredictWithHistory(ctx, fv, history)
		})
	}
	return predictValue(ctx, g, c.Name(), func(ctx context.Context) (float64, error) {
		return p.Predict(ctx, fv)
	})
}

// PredictHeads runs a guarded multi-head inference.
func PredictHeads(ctx context.Context, g *Guard, c Capability[MultiHead], fv model.FeatureVector) (model.HeadOutputs, error) {
	m, ok := c.Handle()
	if !ok {
		return model.HeadOutputs{}, eris.Errorf("predictor: %s unavailable: %s", c.Name(), c.Reason())
	}
	h, err := guardCall(ctx, g, c.Name(), func(ctx context.Context) (model.HeadOutputs, error) {
		return m.PredictHeads(ctx, fv)
	}, nil)
	if err != nil {
		return model.HeadOutputs{}, err
	}
	return h.Clamped(), nil
}
