// Package signals turns cross-system telemetry into adaptive control
// parameters for the fusion and trust learners.
package signals

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// IssueCounts is an issue-severity breakdown.
type IssueCounts struct {
	Critical int `yaml:"critical" json:"critical"`
	High     int `yaml:"high" json:"high"`
	Medium   int `yaml:"medium" json:"medium"`
	Low      int `yaml:"low" json:"low"`
}

// Total is the number of issues across severities.
func (c IssueCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// AutopilotTelemetry comes from the automated fixer.
type AutopilotTelemetry struct {
	AvgConfidence float64 `yaml:"avg_confidence" json:"avg_confidence"`
	AvgFileRisk   float64 `yaml:"avg_file_risk" json:"avg_file_risk"`
	FixCount      int     `yaml:"fix_count" json:"fix_count"`
}

// InsightTelemetry comes from static analysis.
type InsightTelemetry struct {
	AvgConfidence float64     `yaml:"avg_confidence" json:"avg_confidence"`
	AvgFileRisk   float64     `yaml:"avg_file_risk" json:"avg_file_risk"`
	Issues        IssueCounts `yaml:"issues" json:"issues"`
}

// GuardianTelemetry comes from the deployment gate.
type GuardianTelemetry struct {
	AvgConfidence float64 `yaml:"avg_confidence" json:"avg_confidence"`
	AvgFileRisk   float64 `yaml:"avg_file_risk" json:"avg_file_risk"`
	FailureRate   float64 `yaml:"failure_rate" json:"failure_rate"`
}

// Telemetry is the aggregated input to ComputeSignals. Confidences are on
// a 0-100 scale; file risks and the failure rate are in [0,1].
type Telemetry struct {
	Autopilot AutopilotTelemetry `yaml:"autopilot" json:"autopilot"`
	Insight   InsightTelemetry   `yaml:"insight" json:"insight"`
	Guardian  GuardianTelemetry  `yaml:"guardian" json:"guardian"`
}

// LoadTelemetry reads a telemetry YAML file.
func LoadTelemetry(path string) (Telemetry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Telemetry{}, eris.Wrapf(err, "signals: read telemetry %s", path)
	}
	return ParseTelemetry(raw)
}

// ParseTelemetry decodes telemetry YAML. Unknown keys are rejected.
func ParseTelemetry(raw []byte) (Telemetry, error) {
	var t Telemetry
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return Telemetry{}, eris.New("signals: telemetry is empty")
		}
		return Telemetry{}, eris.Wrap(err, "signals: parse telemetry")
	}
	return t, nil
}
