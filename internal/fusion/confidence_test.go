package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjustConfidence(t *testing.T) {
	tests := []struct {
		name   string
		base   float64
		p      float64
		want   float64
		rule   ConfidenceRule
		reason string
	}{
		{"high risk reduces by 20%", 80, 0.75, 64, RuleHighRisk, "high failure risk (75% failure probability)"},
		{"boundary 0.70 is moderate", 80, 0.70, 80, RuleModerateRisk, "moderate failure risk"},
		{"boundary 0.40 is moderate", 80, 0.40, 80, RuleModerateRisk, "moderate failure risk"},
		{"low risk raises by 10%", 80, 0.30, 88, RuleLowRisk, "low failure risk"},
		{"raise is clamped", 95, 0.10, 100, RuleLowRisk, "low failure risk"},
		{"base is clamped first", 150, 0.90, 80, RuleHighRisk, "high failure risk"},
		{"negative base", -5, 0.5, 0, RuleModerateRisk, "moderate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := AdjustConfidence(tt.base, tt.p)
			assert.InDelta(t, tt.want, adj.Adjusted, 1e-9)
			assert.Equal(t, tt.rule, adj.Rule)
			assert.Contains(t, adj.Reason, tt.reason)
			assert.InDelta(t, adj.Adjusted-adj.Base, adj.Delta, 1e-9)
		})
	}
}
