package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/riskfusion/internal/config"
	"github.com/sells-group/riskfusion/internal/signals"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowSuccessRate      AlertType = "low_success_rate"
	AlertCriticalSensitivity AlertType = "critical_sensitivity"
	AlertStaleCalibration    AlertType = "stale_calibration"
	AlertSyncFailure         AlertType = "sync_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewAlerter creates a new Alerter with the given monitoring config.
// Webhook deliveries are limited to AlertRatePerMin.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	perMin := cfg.AlertRatePerMin
	if perMin <= 0 {
		perMin = 6
	}
	burst := max(int(perMin), 1)
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perMin/60), burst),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Rolling success rate, once enough samples exist to mean anything.
	if snap.Stats.Samples >= a.cfg.MinSamples && snap.Stats.Samples > 0 &&
		snap.Stats.SuccessRate < a.cfg.SuccessRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertLowSuccessRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Rolling success rate %.1f%% is below threshold %.1f%% (%d samples)",
				snap.Stats.SuccessRate*100, a.cfg.SuccessRateThreshold*100, snap.Stats.Samples,
			),
			Details: map[string]any{
				"success_rate": snap.Stats.SuccessRate,
				"threshold":    a.cfg.SuccessRateThreshold,
				"samples":      snap.Stats.Samples,
				"patterns":     snap.Stats.TopFailurePatterns,
			},
			Timestamp: now,
		})
	}

	if snap.Decision != nil && snap.Decision.Sensitivity == signals.SensitivityCritical {
		details := map[string]any{
			"risk_multiplier": snap.Decision.RiskMultiplier,
			"reasoning":       snap.Decision.Reasoning,
		}
		if snap.Signals != nil {
			details["stability"] = snap.Signals.Stability
			details["risk_pressure"] = snap.Signals.RiskPressure
		}
		alerts = append(alerts, Alert{
			Type:      AlertCriticalSensitivity,
			Severity:  "high",
			Message:   "Telemetry stability is critical; gating sensitivity raised to critical",
			Details:   details,
			Timestamp: now,
		})
	}

	// Version 0 weights are the uncalibrated defaults and never go stale.
	if a.cfg.StaleCalibrationHours > 0 && snap.Weights.Version > 0 {
		age := now.Sub(snap.Weights.LastUpdated)
		limit := time.Duration(a.cfg.StaleCalibrationHours) * time.Hour
		if age > limit {
			alerts = append(alerts, Alert{
				Type:     AlertStaleCalibration,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Fusion weights v%d were last calibrated %s ago (limit %dh)",
					snap.Weights.Version, age.Round(time.Minute), a.cfg.StaleCalibrationHours,
				),
				Details: map[string]any{
					"version":      snap.Weights.Version,
					"last_updated": snap.Weights.LastUpdated,
				},
				Timestamp: now,
			})
		}
	}

	if snap.SyncFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSyncFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d of %d history sync(s) failed since %s",
				snap.SyncFailed, snap.SyncTotal, snap.Since.Format(time.RFC3339),
			),
			Details: map[string]any{
				"failed_count": snap.SyncFailed,
				"total_syncs":  snap.SyncTotal,
				"last_error":   snap.LastSyncError,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if !a.limiter.Allow() {
			zap.L().Warn("monitoring: alert rate limited",
				zap.String("type", string(alert.Type)),
			)
			continue
		}
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
