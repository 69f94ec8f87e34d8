package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/fusion"
	"github.com/sells-group/riskfusion/internal/model"
)

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Fuse predictors into a deployment failure probability",
	Long: `Reads one feature object, or an array of them, and prints the fused
result with its confidence adjustment as JSON. Missing features are treated
as 0. With --outcome the decision is recorded in the training history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("fuse"); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("features")
		simple, _ := cmd.Flags().GetBool("simple")
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		window, _ := cmd.Flags().GetInt("history")
		outcome, _ := cmd.Flags().GetString("outcome")

		raw, err := readInput(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		vectors, batch, err := parseFeatures(raw)
		if err != nil {
			return err
		}
		success, record, err := parseOutcome(outcome)
		if err != nil {
			return err
		}
		if record && batch {
			return eris.New("fuse: --outcome records a single decision, not a batch")
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		weights, err := st.Weights(ctx)
		if err != nil {
			return err
		}
		if window <= 0 {
			window = cfg.History.RollingWindow
		}
		recent, err := st.LoadLast(ctx, window)
		if err != nil {
			return err
		}

		reqs := make([]fusion.Request, len(vectors))
		for i, fv := range vectors {
			reqs[i] = fusion.Request{Features: fv, History: recent, Weights: weights}
		}

		engine := newFusionEngine(cfg)
		results, err := engine.FuseBatch(ctx, reqs, cfg.Predictors.BatchConcurrency, simple)
		if err != nil {
			return eris.Wrap(err, "fuse")
		}

		outputs := make([]fuseOutput, len(results))
		for i, r := range results {
			outputs[i] = newFuseOutput(r, confidence)
		}

		if record {
			if results[0].Err != nil {
				return results[0].Err
			}
			sample := model.SampleFromResult(vectors[0], results[0].Result, outputs[0].Confidence.Adjusted, success, time.Now())
			stored, err := st.Append(ctx, sample)
			if err != nil {
				return err
			}
			outputs[0].Recorded = &stored
			zap.L().Info("fuse: outcome recorded", zap.String("id", stored.ID), zap.Bool("success", success))
		}

		if batch {
			return writeJSON(cmd.OutOrStdout(), outputs)
		}
		if outputs[0].Error != "" {
			return eris.New(outputs[0].Error)
		}
		return writeJSON(cmd.OutOrStdout(), outputs[0])
	},
}

// fuseOutput is one decision as printed by the fuse command.
type fuseOutput struct {
	Result     *model.FusionResult   `json:"result,omitempty"`
	Confidence fusion.Adjustment     `json:"confidence"`
	Recorded   *model.TrainingSample `json:"recorded,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func newFuseOutput(r fusion.BatchResult, baseConfidence float64) fuseOutput {
	if r.Err != nil {
		return fuseOutput{Error: r.Err.Error()}
	}
	res := r.Result
	return fuseOutput{
		Result:     &res,
		Confidence: fusion.AdjustConfidence(baseConfidence, res.FinalProbability),
	}
}

// readInput reads path, or r when path is "-".
func readInput(r io.Reader, path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(r)
		return raw, eris.Wrap(err, "read stdin")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return raw, nil
}

// parseFeatures decodes a feature object or an array of them. batch
// reports whether the input was an array.
func parseFeatures(raw []byte) (vectors []model.FeatureVector, batch bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false, eris.New("fuse: empty feature input")
	}

	var objs []map[string]float64
	if raw[0] == '[' {
		batch = true
		if err := json.Unmarshal(raw, &objs); err != nil {
			return nil, true, eris.Wrap(err, "fuse: decode feature array")
		}
		if len(objs) == 0 {
			return nil, true, eris.New("fuse: empty feature array")
		}
	} else {
		var obj map[string]float64
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, false, eris.Wrap(err, "fuse: decode features")
		}
		objs = []map[string]float64{obj}
	}

	vectors = make([]model.FeatureVector, len(objs))
	for i, obj := range objs {
		fv, err := featureVector(obj)
		if err != nil {
			return nil, batch, eris.Wrapf(err, "fuse: decision %d", i)
		}
		vectors[i] = fv
	}
	return vectors, batch, nil
}

// featureVector orders m as DefaultFeatureNames followed by any extra
// names in sorted order.
func featureVector(m map[string]float64) (model.FeatureVector, error) {
	names := append([]string(nil), model.DefaultFeatureNames...)
	var extra []string
	for n := range m {
		if !slices.Contains(names, n) {
			extra = append(extra, n)
		}
	}
	slices.Sort(extra)
	return model.FeatureVectorFromMap(append(names, extra...), m)
}

func parseOutcome(s string) (success, record bool, err error) {
	switch s {
	case "":
		return false, false, nil
	case "success":
		return true, true, nil
	case "failure":
		return false, true, nil
	default:
		return false, false, eris.Errorf("fuse: --outcome must be success or failure (got %q)", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write json")
}

func init() {
	fuseCmd.Flags().String("features", "-", "feature JSON file, or - for stdin")
	fuseCmd.Flags().Bool("simple", false, "use the simple fusion variant")
	fuseCmd.Flags().Float64("confidence", 80, "base confidence (0-100) to adjust")
	fuseCmd.Flags().Int("history", 0, "recent samples passed to the sequence predictor (0 = history.rolling_window)")
	fuseCmd.Flags().String("outcome", "", "record the decision with its outcome: success or failure")
	rootCmd.AddCommand(fuseCmd)
}
