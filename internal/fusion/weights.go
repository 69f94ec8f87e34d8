package fusion

import (
	"fmt"

	"github.com/sells-group/riskfusion/internal/model"
)

// Availability is which optional predictors produced an output for a
// decision. The heuristic is always available.
type Availability struct {
	Primary   bool
	Sequence  bool
	MultiHead bool
}

func (a Availability) String() string {
	return fmt.Sprintf("primary=%t sequence=%t multi_head=%t", a.Primary, a.Sequence, a.MultiHead)
}

// Fixed fallback rows of the full variant.
var (
	multiHeadOnlyWeights   = model.WeightSet{MultiHead: 0.50, Heuristic: 0.50}
	primarySequenceWeights = model.WeightSet{Primary: 0.40, Sequence: 0.30, Heuristic: 0.30}
	primaryOnlyWeights     = model.WeightSet{Primary: 0.50, Heuristic: 0.50}
	heuristicOnlyWeights   = model.WeightSet{Heuristic: 1.00}
)

// Rows of the simple variant.
var (
	simpleAllWeights       = model.WeightSet{Primary: 0.50, Heuristic: 0.30, Sequence: 0.20}
	simplePrimaryWeights   = model.WeightSet{Primary: 0.50, Heuristic: 0.50}
	simpleSequenceWeights  = model.WeightSet{Sequence: 0.50, Heuristic: 0.50}
	simpleHeuristicWeights = model.WeightSet{Heuristic: 1.00}
)

// SelectWeights picks the full-variant weight row. Rows are tried in order;
// the first whose requirements are met wins:
//
//	primary+sequence+multi-head  persisted weights, normalized
//	multi-head                   0 / 0 / 0.50 / 0.50
//	primary+sequence             0.40 / 0.30 / 0 / 0.30
//	primary                      0.50 / 0 / 0 / 0.50
//	otherwise                    heuristic 1.00
func SelectWeights(a Availability, persisted model.FusionWeights) (model.WeightSet, string) {
	switch {
	case a.Primary && a.Sequence && a.MultiHead:
		n := persisted.Normalized()
		return model.WeightSet{
			Primary:   n.Primary,
			Sequence:  n.Sequence,
			MultiHead: n.MultiHead,
			Heuristic: n.Heuristic,
		}, fmt.Sprintf("all predictors available, using weights v%d", persisted.Version)
	case a.MultiHead:
		return multiHeadOnlyWeights, "multi-head with heuristic"
	case a.Primary && a.Sequence:
		return primarySequenceWeights, "primary and sequence with heuristic"
	case a.Primary:
		return primaryOnlyWeights, "primary with heuristic"
	default:
		return heuristicOnlyWeights, "heuristic only"
	}
}

// SelectSimpleWeights picks the simple-variant weight row.
func SelectSimpleWeights(a Availability) (model.WeightSet, string) {
	switch {
	case a.Primary && a.Sequence:
		return simpleAllWeights, "primary, sequence and heuristic"
	case a.Primary:
		return simplePrimaryWeights, "primary with heuristic"
	case a.Sequence:
		return simpleSequenceWeights, "sequence with heuristic"
	default:
		return simpleHeuristicWeights, "heuristic only"
	}
}

// combine computes the weighted sum of the available outputs.
func combine(w model.WeightSet, primary, sequence, multiHead, heuristic float64) float64 {
	return w.Primary*primary + w.Sequence*sequence + w.MultiHead*multiHead + w.Heuristic*heuristic
}
