package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/riskfusion/internal/model"
)

func failed(features map[string]float64) model.TrainingSample {
	return model.TrainingSample{Features: features}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name     string
		features map[string]float64
		want     model.FailurePattern
	}{
		{"critical wins over everything", map[string]float64{"critical_failures": 1, "high_failures": 3, "regressions": 2, "risk_weight": 0.9}, model.PatternCriticalTests},
		{"high severity", map[string]float64{"high_failures": 2, "regressions": 1}, model.PatternHighSeverity},
		{"regression", map[string]float64{"regressions": 1, "risk_weight": 0.9}, model.PatternRegression},
		{"high risk weight", map[string]float64{"risk_weight": 0.71}, model.PatternHighRisk},
		{"risk weight at threshold is unknown", map[string]float64{"risk_weight": 0.70}, model.PatternUnknown},
		{"no features", nil, model.PatternUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFailure(failed(tt.features)))
		})
	}
}

func TestTopFailurePatterns(t *testing.T) {
	samples := []model.TrainingSample{
		failed(map[string]float64{"risk_weight": 0.9}),
		failed(map[string]float64{"risk_weight": 0.8}),
		failed(map[string]float64{"regressions": 1}),
		failed(map[string]float64{"critical_failures": 1}),
		failed(map[string]float64{"critical_failures": 2}),
		{Success: true, Features: map[string]float64{"critical_failures": 5}},
	}

	got := topFailurePatterns(samples, 5)
	assert.Equal(t, []model.PatternCount{
		{Pattern: model.PatternCriticalTests, Count: 2},
		{Pattern: model.PatternHighRisk, Count: 2},
		{Pattern: model.PatternRegression, Count: 1},
	}, got)

	assert.Len(t, topFailurePatterns(samples, 1), 1)
	assert.Empty(t, topFailurePatterns(nil, 5))
}
