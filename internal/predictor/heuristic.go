package predictor

import (
	"context"

	"github.com/sells-group/riskfusion/internal/model"
)

// Heuristic coefficients. They sum to 1 so a vector of maximal inputs maps to
// a failure probability of exactly 1.
const (
	coefCritical    = 0.40
	coefHigh        = 0.25
	coefRiskWeight  = 0.15
	coefTestImpact  = 0.10
	coefStability   = 0.05
	coefVolatility  = 0.03
	coefRegressions = 0.02
)

// Heuristic scores a feature vector with fixed coefficients. It needs no
// model and is always available; the only error is a vector that does not
// start with the core feature names.
func Heuristic(fv model.FeatureVector) (float64, error) {
	if err := fv.HasPrefix(model.CoreFeatureNames); err != nil {
		return 0, err
	}
	v := fv.Values()
	in := func(i int) float64 { return model.Clamp01(v[i]) }

	p := coefCritical*in(4) +
		coefHigh*in(5) +
		coefRiskWeight*in(0) +
		coefTestImpact*(1-in(1)) +
		coefStability*(1-in(2)) +
		coefVolatility*in(3) +
		coefRegressions*in(6)

	return model.Clamp01(p), nil
}

// HeuristicPredictor adapts Heuristic to the Predictor contract.
type HeuristicPredictor struct{}

// Predict implements Predictor.
func (HeuristicPredictor) Predict(_ context.Context, fv model.FeatureVector) (float64, error) {
	return Heuristic(fv)
}

// Close implements Handle.
func (HeuristicPredictor) Close() error { return nil }
