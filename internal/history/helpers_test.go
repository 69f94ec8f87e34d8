package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskfusion/internal/model"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T, workspace string) *SQLiteLog {
	t.Helper()
	l, err := NewSQLite(filepath.Join(t.TempDir(), "history.db"), workspace)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))
	return l
}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return baseTime }
	}
	return NewStore(newTestSQLite(t, opts.Workspace), opts)
}

// sampleAt builds an unsigned sample; the store fills in its identity.
func sampleAt(ts time.Time, risk float64, success bool) model.TrainingSample {
	return model.TrainingSample{
		Timestamp: ts,
		Features: map[string]float64{
			model.FeatureRiskWeight:       risk,
			model.FeatureTestImpact:       0.2,
			model.FeatureCriticalFailures: 0,
			model.FeatureHighFailures:     0,
			model.FeatureRegressions:      0,
		},
		FinalProbability: risk,
		Confidence:       80,
		Success:          success,
	}
}

func record(key string, ts time.Time, tier model.Tier) Record {
	return Record{Key: key, ID: "id-" + key, Timestamp: ts, Tier: tier, Payload: []byte(`{"id":"id-` + key + `"}`)}
}
