package signals

import (
	"fmt"
	"math"

	"github.com/sells-group/riskfusion/internal/model"
)

// FixVelocitySaturation is the fix count at which fix velocity reaches 1.
const FixVelocitySaturation = 50

// Signals are the five normalized control signals, each in [0,1].
type Signals struct {
	Confidence        float64 `json:"confidence"`
	RiskPressure      float64 `json:"risk_pressure"`
	Stability         float64 `json:"stability"`
	FixVelocity       float64 `json:"fix_velocity"`
	LearningPotential float64 `json:"learning_potential"`
}

func finite01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return model.Clamp01(v)
}

// confidence01 rescales a 0-100 confidence to [0,1].
func confidence01(v float64) float64 {
	return finite01(v / 100)
}

// ComputeSignals derives the control signals from telemetry:
//
//	riskPressure      = 0.40·mean(avgFileRisk) + 0.35·(critical+high)/issues + 0.25·failureRate
//	confidence        = (0.40·autopilot + 0.30·insight + 0.30·guardian) / 100
//	stability         = 0.50·(1-failureRate) + 0.30·confidence + 0.20·(1-riskPressure)
//	fixVelocity       = min(fixCount/50, 1)
//	learningPotential = 0.40·(1-confidence) + 0.30·fixVelocity + 0.30·riskPressure
func ComputeSignals(t Telemetry) Signals {
	fileRisk := (finite01(t.Autopilot.AvgFileRisk) + finite01(t.Insight.AvgFileRisk) + finite01(t.Guardian.AvgFileRisk)) / 3

	var severe float64
	if total := t.Insight.Issues.Total(); total > 0 {
		severe = float64(t.Insight.Issues.Critical+t.Insight.Issues.High) / float64(total)
	}
	failureRate := finite01(t.Guardian.FailureRate)

	var s Signals
	s.RiskPressure = finite01(0.40*fileRisk + 0.35*finite01(severe) + 0.25*failureRate)
	s.Confidence = finite01(0.40*confidence01(t.Autopilot.AvgConfidence) +
		0.30*confidence01(t.Insight.AvgConfidence) +
		0.30*confidence01(t.Guardian.AvgConfidence))
	s.Stability = finite01(0.50*(1-failureRate) + 0.30*s.Confidence + 0.20*(1-s.RiskPressure))
	if t.Autopilot.FixCount > 0 {
		s.FixVelocity = math.Min(float64(t.Autopilot.FixCount)/FixVelocitySaturation, 1)
	}
	s.LearningPotential = finite01(0.40*(1-s.Confidence) + 0.30*s.FixVelocity + 0.30*s.RiskPressure)
	return s
}

// Sensitivity is how aggressively gating should react to risk.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

const (
	MinLearningRate   = 0.05
	MaxLearningRate   = 0.30
	MinRiskMultiplier = 0.5
	MaxRiskMultiplier = 1.5
)

// MetaDecision holds the control parameters derived from Signals, each
// with the reasoning that produced it.
type MetaDecision struct {
	FusionLearningRate float64     `json:"fusion_learning_rate"`
	TrustLearningRate  float64     `json:"trust_learning_rate"`
	Sensitivity        Sensitivity `json:"sensitivity"`
	Aggressiveness     float64     `json:"aggressiveness"`
	RiskMultiplier     float64     `json:"risk_multiplier"`
	Reasoning          []string    `json:"reasoning"`
}

// SensitivityFor maps stability to a sensitivity level.
func SensitivityFor(stability float64) (Sensitivity, string) {
	switch {
	case stability < 0.40:
		return SensitivityCritical, fmt.Sprintf("stability %.2f < 0.40: critical sensitivity", stability)
	case stability < 0.60:
		return SensitivityHigh, fmt.Sprintf("stability %.2f < 0.60: high sensitivity", stability)
	case stability < 0.80:
		return SensitivityMedium, fmt.Sprintf("stability %.2f < 0.80: medium sensitivity", stability)
	default:
		return SensitivityLow, fmt.Sprintf("stability %.2f >= 0.80: low sensitivity", stability)
	}
}

// ComputeMetaDecision derives learning rates, sensitivity, aggressiveness
// and the risk multiplier from s.
func ComputeMetaDecision(s Signals) MetaDecision {
	stability := finite01(s.Stability)
	pressure := finite01(s.RiskPressure)
	span := MaxLearningRate - MinLearningRate

	var d MetaDecision
	d.FusionLearningRate = MinLearningRate + span*(1-stability)
	d.Reasoning = append(d.Reasoning, fmt.Sprintf(
		"fusion learning rate %.3f: instability %.2f scales the [%.2f, %.2f] range",
		d.FusionLearningRate, 1-stability, MinLearningRate, MaxLearningRate))

	d.TrustLearningRate = MinLearningRate + span*pressure
	d.Reasoning = append(d.Reasoning, fmt.Sprintf(
		"trust learning rate %.3f: risk pressure %.2f scales the [%.2f, %.2f] range",
		d.TrustLearningRate, pressure, MinLearningRate, MaxLearningRate))

	var why string
	d.Sensitivity, why = SensitivityFor(stability)
	d.Reasoning = append(d.Reasoning, why)

	d.Aggressiveness = finite01(s.LearningPotential)
	d.Reasoning = append(d.Reasoning, fmt.Sprintf(
		"aggressiveness %.2f equals learning potential", d.Aggressiveness))

	raw := 1 + (pressure - 0.5)
	d.RiskMultiplier = model.ClampRange(raw, MinRiskMultiplier, MaxRiskMultiplier)
	switch {
	case pressure > 0.5:
		d.Reasoning = append(d.Reasoning, fmt.Sprintf(
			"risk multiplier %.2f: risk pressure %.2f above 0.50 raises risk weighting", d.RiskMultiplier, pressure))
	case pressure < 0.5:
		d.Reasoning = append(d.Reasoning, fmt.Sprintf(
			"risk multiplier %.2f: risk pressure %.2f below 0.50 lowers risk weighting", d.RiskMultiplier, pressure))
	default:
		d.Reasoning = append(d.Reasoning, "risk multiplier 1.00: risk pressure at 0.50 is neutral")
	}
	return d
}
