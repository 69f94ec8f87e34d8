package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskfusion/internal/calibrate"
	"github.com/sells-group/riskfusion/internal/config"
	"github.com/sells-group/riskfusion/internal/history"
)

func TestFormatSyncEntries(t *testing.T) {
	started := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	entries := []history.SyncEntry{
		{
			ID:          1,
			Peer:        "eu-west",
			Status:      history.SyncComplete,
			StartedAt:   started,
			CompletedAt: started.Add(1500 * time.Millisecond),
			Imported:    12,
			Replaced:    3,
		},
		{
			ID:        2,
			Peer:      "us-east",
			Status:    history.SyncFailed,
			StartedAt: started,
			Error:     strings.Repeat("x", 100),
		},
	}

	var buf bytes.Buffer
	formatSyncEntries(&buf, entries)

	output := buf.String()
	assert.Contains(t, output, "PEER")
	assert.Contains(t, output, "eu-west")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "2026-03-10 10:30")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, strings.Repeat("x", 57)+"...")
	assert.NotContains(t, output, strings.Repeat("x", 61))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestStoreOptions(t *testing.T) {
	c := &config.Config{}
	c.Store.Workspace = "payments"
	c.History.RetentionLimit = 300
	c.History.CompressAfterDays = 7
	c.History.MinHotSamples = 20
	c.History.AutoPrune = true

	opts := storeOptions(c)
	assert.Equal(t, "payments", opts.Workspace)
	assert.Equal(t, 300, opts.RetentionLimit)
	assert.Equal(t, 7*24*time.Hour, opts.CompressAfter)
	assert.Equal(t, 20, opts.MinHotSamples)
	assert.True(t, opts.AutoPrune)
}

// execute runs the root command in a temp workspace and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	t.Setenv("HOME", dir)
	t.Setenv("RISKFUSION_STORE_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("RISKFUSION_LOG_LEVEL", "error")

	// Two recorded decisions with heuristic-only fusion.
	out, err := execute(t, `{"risk_weight": 0.9, "critical_failures": 1, "high_failures": 1}`,
		"fuse", "--features", "-", "--outcome", "failure")
	require.NoError(t, err)
	var fused fuseOutput
	require.NoError(t, json.Unmarshal([]byte(out), &fused))
	require.NotNil(t, fused.Result)
	require.NotNil(t, fused.Recorded)
	assert.Greater(t, fused.Result.FinalProbability, 0.7)
	assert.Less(t, fused.Confidence.Adjusted, 80.0)

	_, err = execute(t, `{"risk_weight": 0.1, "test_impact": 0.9}`,
		"fuse", "--features", "-", "--outcome", "success")
	require.NoError(t, err)

	out, err = execute(t, "", "history", "stats")
	require.NoError(t, err)
	var stats historyStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "default", stats.Workspace)
	assert.Equal(t, 2, stats.Hot)
	assert.Equal(t, 2, stats.Rolling.Samples)
	assert.InDelta(t, 0.5, stats.Rolling.SuccessRate, 1e-9)

	out, err = execute(t, "", "calibrate", "--window", "10")
	require.NoError(t, err)
	var res calibrate.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Updated)
	assert.Equal(t, 2, res.SamplesUsed)
	assert.Equal(t, 1, res.Weights.Version)

	bundle, err := execute(t, "", "history", "export", "--out", "-")
	require.NoError(t, err)

	// Merge the bundle into a second workspace in the same database.
	t.Setenv("RISKFUSION_STORE_WORKSPACE", "peer")
	out, err = execute(t, bundle, "history", "merge", "--in", "-")
	require.NoError(t, err)
	var merged history.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &merged))
	assert.Equal(t, 2, merged.Imported)
	assert.Zero(t, merged.Rejected)

	out, err = execute(t, "", "history", "syncs")
	require.NoError(t, err)
	assert.Contains(t, out, "default")
	assert.Contains(t, out, "complete")

	// Importing the same bundle again skips every sample.
	out, err = execute(t, bundle, "history", "import", "--in", "-")
	require.NoError(t, err)
	var imported history.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Zero(t, imported.Imported)
	assert.Equal(t, 2, imported.Skipped)

	out, err = execute(t, "", "history", "prune", "--keep", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 1 sample(s)")
}

func TestSignalsCommand(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	t.Setenv("HOME", dir)
	t.Setenv("RISKFUSION_LOG_LEVEL", "error")

	telemetry := `
autopilot:
  avg_confidence: 90
  avg_file_risk: 0.1
  fix_count: 25
insight:
  avg_confidence: 90
  avg_file_risk: 0.1
guardian:
  avg_confidence: 90
  avg_file_risk: 0.1
  failure_rate: 0.0
`
	out, err := execute(t, telemetry, "signals", "--telemetry", "-")
	require.NoError(t, err)

	var got signalsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 0.5, got.Signals.FixVelocity, 1e-9)
	assert.InDelta(t, 0.9, got.Signals.Confidence, 1e-9)
	assert.Len(t, got.Decision.Reasoning, 5)

	_, err = execute(t, "", "signals", "--telemetry", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
