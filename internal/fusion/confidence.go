package fusion

import (
	"fmt"

	"github.com/sells-group/riskfusion/internal/model"
)

// ConfidenceRule names the branch of the confidence policy that applied.
type ConfidenceRule string

const (
	RuleHighRisk     ConfidenceRule = "high_risk"
	RuleModerateRisk ConfidenceRule = "moderate_risk"
	RuleLowRisk      ConfidenceRule = "low_risk"
)

const (
	highRiskThreshold = 0.70
	lowRiskThreshold  = 0.40
	highRiskFactor    = 0.80
	lowRiskFactor     = 1.10
)

// Adjustment is the outcome of the confidence policy.
type Adjustment struct {
	Base     float64        `json:"base"`
	Adjusted float64        `json:"adjusted"`
	Delta    float64        `json:"delta"`
	Rule     ConfidenceRule `json:"rule"`
	Reason   string         `json:"reason"`
}

// AdjustConfidence scales a base confidence (0-100) by the fused failure
// probability: above 0.70 it drops 20%, below 0.40 it rises 10%, otherwise it
// is unchanged. The result is clamped to [0,100].
func AdjustConfidence(base, probability float64) Adjustment {
	base = model.ClampRange(base, 0, 100)
	p := model.Clamp01(probability)

	var factor float64
	var rule ConfidenceRule
	var label string
	switch {
	case p > highRiskThreshold:
		factor, rule, label = highRiskFactor, RuleHighRisk, "high failure risk"
	case p < lowRiskThreshold:
		factor, rule, label = lowRiskFactor, RuleLowRisk, "low failure risk"
	default:
		factor, rule, label = 1, RuleModerateRisk, "moderate failure risk"
	}

	adjusted := model.ClampRange(base*factor, 0, 100)
	return Adjustment{
		Base:     base,
		Adjusted: adjusted,
		Delta:    adjusted - base,
		Rule:     rule,
		Reason:   fmt.Sprintf("%s (%.0f%% failure probability)", label, p*100),
	}
}
