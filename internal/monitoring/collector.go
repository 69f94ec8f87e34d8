package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/history"
	"github.com/sells-group/riskfusion/internal/model"
	"github.com/sells-group/riskfusion/internal/signals"
)

// syncScanLimit bounds how many sync log entries one collection reads.
const syncScanLimit = 100

// MetricsSnapshot holds a point-in-time view of fusion health.
type MetricsSnapshot struct {
	// Rolling window over the newest samples.
	Stats       model.RollingWindowStats `json:"stats"`
	HotSamples  int                      `json:"hot_samples"`
	ColdSamples int                      `json:"cold_samples"`

	// Calibration state.
	Weights model.FusionWeights `json:"weights"`

	// Control signals, present when a telemetry file is configured and readable.
	Signals  *signals.Signals      `json:"signals,omitempty"`
	Decision *signals.MetaDecision `json:"decision,omitempty"`

	// Federation syncs started at or after Since.
	SyncTotal     int    `json:"sync_total"`
	SyncFailed    int    `json:"sync_failed"`
	LastSyncError string `json:"last_sync_error,omitempty"`

	Since       time.Time `json:"since"`
	CollectedAt time.Time `json:"collected_at"`
}

// HistorySource abstracts the history.Store methods needed by the collector.
type HistorySource interface {
	RollingStats(ctx context.Context, window int) (model.RollingWindowStats, error)
	Counts(ctx context.Context) (hot, cold int, err error)
	Weights(ctx context.Context) (model.FusionWeights, error)
	Syncs(ctx context.Context, limit int) ([]history.SyncEntry, error)
}

// Collector gathers metrics from the history store and telemetry file.
type Collector struct {
	source        HistorySource
	window        int
	telemetryPath string
	now           func() time.Time
}

// NewCollector creates a new metrics collector. An empty telemetryPath
// skips signal computation.
func NewCollector(source HistorySource, window int, telemetryPath string) *Collector {
	if window <= 0 {
		window = history.DefaultWindow
	}
	return &Collector{
		source:        source,
		window:        window,
		telemetryPath: telemetryPath,
		now:           time.Now,
	}
}

// Collect gathers a snapshot. Sync counts cover entries started at or
// after since.
func (c *Collector) Collect(ctx context.Context, since time.Time) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		Since:       since.UTC(),
		CollectedAt: c.now().UTC(),
	}

	stats, err := c.source.RollingStats(ctx, c.window)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: rolling stats")
	}
	snap.Stats = stats

	if snap.HotSamples, snap.ColdSamples, err = c.source.Counts(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: count samples")
	}

	if snap.Weights, err = c.source.Weights(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: read weights")
	}

	entries, err := c.source.Syncs(ctx, syncScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list syncs")
	}
	for _, e := range entries {
		if e.StartedAt.Before(since) {
			continue
		}
		snap.SyncTotal++
		if e.Status == history.SyncFailed {
			snap.SyncFailed++
			if snap.LastSyncError == "" {
				snap.LastSyncError = e.Error
			}
		}
	}

	if c.telemetryPath != "" {
		t, err := signals.LoadTelemetry(c.telemetryPath)
		if err != nil {
			zap.L().Warn("monitoring: telemetry unavailable",
				zap.String("path", c.telemetryPath),
				zap.Error(err),
			)
		} else {
			s := signals.ComputeSignals(t)
			d := signals.ComputeMetaDecision(s)
			snap.Signals = &s
			snap.Decision = &d
		}
	}

	return snap, nil
}
