package monitoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskfusion/internal/history"
	"github.com/sells-group/riskfusion/internal/model"
	"github.com/sells-group/riskfusion/internal/signals"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeSource implements HistorySource for testing.
type fakeSource struct {
	stats     model.RollingWindowStats
	hot, cold int
	weights   model.FusionWeights
	syncs     []history.SyncEntry

	statsErr error
	syncErr  error
	window   int
}

func (f *fakeSource) RollingStats(_ context.Context, window int) (model.RollingWindowStats, error) {
	f.window = window
	return f.stats, f.statsErr
}

func (f *fakeSource) Counts(context.Context) (int, int, error) { return f.hot, f.cold, nil }

func (f *fakeSource) Weights(context.Context) (model.FusionWeights, error) { return f.weights, nil }

func (f *fakeSource) Syncs(context.Context, int) ([]history.SyncEntry, error) {
	return f.syncs, f.syncErr
}

func newTestCollector(src HistorySource, telemetryPath string) *Collector {
	c := NewCollector(src, 25, telemetryPath)
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Collect(t *testing.T) {
	src := &fakeSource{
		stats:   model.RollingWindowStats{Window: 25, Samples: 20, SuccessRate: 0.75},
		hot:     40,
		cold:    12,
		weights: model.DefaultFusionWeights(),
		syncs: []history.SyncEntry{
			{Peer: "eu", Status: history.SyncFailed, StartedAt: now.Add(-time.Minute), Error: "checksum mismatch"},
			{Peer: "us", Status: history.SyncComplete, StartedAt: now.Add(-2 * time.Minute)},
			{Peer: "ap", Status: history.SyncFailed, StartedAt: now.Add(-48 * time.Hour), Error: "old"},
		},
	}

	snap, err := newTestCollector(src, "").Collect(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 25, src.window)
	assert.Equal(t, 20, snap.Stats.Samples)
	assert.Equal(t, 40, snap.HotSamples)
	assert.Equal(t, 12, snap.ColdSamples)
	assert.Equal(t, 2, snap.SyncTotal)
	assert.Equal(t, 1, snap.SyncFailed)
	assert.Equal(t, "checksum mismatch", snap.LastSyncError)
	assert.Nil(t, snap.Signals)
	assert.Nil(t, snap.Decision)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_DefaultWindow(t *testing.T) {
	src := &fakeSource{}
	c := NewCollector(src, 0, "")
	_, err := c.Collect(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, history.DefaultWindow, src.window)
}

func TestCollector_Telemetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.yaml")
	raw := `
autopilot:
  avg_confidence: 20
  avg_file_risk: 0.9
  fix_count: 10
insight:
  avg_confidence: 20
  avg_file_risk: 0.9
  issues:
    critical: 5
    high: 5
guardian:
  avg_confidence: 20
  avg_file_risk: 0.9
  failure_rate: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	snap, err := newTestCollector(&fakeSource{}, path).Collect(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, snap.Signals)
	require.NotNil(t, snap.Decision)
	assert.Equal(t, signals.SensitivityCritical, snap.Decision.Sensitivity)
}

func TestCollector_TelemetryMissingIsNotFatal(t *testing.T) {
	snap, err := newTestCollector(&fakeSource{}, filepath.Join(t.TempDir(), "missing.yaml")).
		Collect(context.Background(), now)
	require.NoError(t, err)
	assert.Nil(t, snap.Signals)
}

func TestCollector_StatsError(t *testing.T) {
	src := &fakeSource{statsErr: errors.New("db down")}
	_, err := newTestCollector(src, "").Collect(context.Background(), now)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: rolling stats")
}

func TestCollector_SyncError(t *testing.T) {
	src := &fakeSource{syncErr: errors.New("db down")}
	_, err := newTestCollector(src, "").Collect(context.Background(), now)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list syncs")
}

func TestCollector_HistoryStore(t *testing.T) {
	ctx := context.Background()
	backend, err := history.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "history.db"), "default", nil)
	require.NoError(t, err)
	st := history.NewStore(backend, history.Options{Now: func() time.Time { return now }})
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	for i := range 4 {
		_, err := st.Append(ctx, model.TrainingSample{
			Timestamp:        now.Add(-time.Duration(i) * time.Minute),
			Features:         map[string]float64{model.FeatureRiskWeight: 0.3},
			FinalProbability: 0.3,
			Confidence:       70,
			Success:          i%2 == 0,
		})
		require.NoError(t, err)
	}

	snap, err := newTestCollector(st, "").Collect(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Stats.Samples)
	assert.InDelta(t, 0.5, snap.Stats.SuccessRate, 1e-9)
	assert.Equal(t, 4, snap.HotSamples)
	assert.Equal(t, model.DefaultFusionWeights().Primary, snap.Weights.Primary)
}
