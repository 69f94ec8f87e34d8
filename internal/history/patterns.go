package history

import (
	"sort"

	"github.com/sells-group/riskfusion/internal/model"
)

// HighRiskWeight is the risk_weight above which an otherwise unexplained
// failure is attributed to risk.
const HighRiskWeight = 0.70

// TopPatterns is how many failure patterns RollingStats reports.
const TopPatterns = 5

var patternPriority = map[model.FailurePattern]int{
	model.PatternCriticalTests: 0,
	model.PatternHighSeverity:  1,
	model.PatternRegression:    2,
	model.PatternHighRisk:      3,
	model.PatternUnknown:       4,
}

// ClassifyFailure labels the dominant cause of a failed sample. The first
// matching rule wins: critical test failures, high-severity failures,
// baseline regressions, then a high risk weight.
func ClassifyFailure(s model.TrainingSample) model.FailurePattern {
	f := s.Features
	switch {
	case f[model.FeatureCriticalFailures] > 0:
		return model.PatternCriticalTests
	case f[model.FeatureHighFailures] > 0:
		return model.PatternHighSeverity
	case f[model.FeatureRegressions] > 0:
		return model.PatternRegression
	case f[model.FeatureRiskWeight] > HighRiskWeight:
		return model.PatternHighRisk
	default:
		return model.PatternUnknown
	}
}

// topFailurePatterns counts the failure patterns of the failed samples and
// returns the n most frequent, ties in rule order.
func topFailurePatterns(samples []model.TrainingSample, n int) []model.PatternCount {
	counts := make(map[model.FailurePattern]int)
	for _, s := range samples {
		if !s.Success {
			counts[ClassifyFailure(s)]++
		}
	}

	out := make([]model.PatternCount, 0, len(counts))
	for p, c := range counts {
		out = append(out, model.PatternCount{Pattern: p, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return patternPriority[out[i].Pattern] < patternPriority[out[j].Pattern]
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
