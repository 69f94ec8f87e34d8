package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/history"
	"github.com/sells-group/riskfusion/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and maintain the training history",
	Long:  "Reports rolling statistics, exports and merges history bundles between peers, and prunes or compresses the local log.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("history")
	},
}

// withStore opens the configured history store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(st *history.Store) error) error {
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(st)
}

// historyStats is the payload printed by history stats.
type historyStats struct {
	Workspace string                   `json:"workspace"`
	Hot       int                      `json:"hot"`
	Cold      int                      `json:"cold"`
	Rolling   model.RollingWindowStats `json:"rolling"`
	Weights   model.FusionWeights      `json:"weights"`
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show rolling window statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetInt("window")
		if window <= 0 {
			window = cfg.History.RollingWindow
		}
		return withStore(cmd, func(st *history.Store) error {
			ctx := cmd.Context()
			out := historyStats{Workspace: st.Options().Workspace}
			var err error
			if out.Hot, out.Cold, err = st.Counts(ctx); err != nil {
				return err
			}
			if out.Rolling, err = st.RollingStats(ctx, window); err != nil {
				return err
			}
			if out.Weights, err = st.Weights(ctx); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		})
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full history as a bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("out")
		return withStore(cmd, func(st *history.Store) error {
			bundle, err := st.ExportAll(cmd.Context())
			if err != nil {
				return err
			}
			if path == "-" {
				return writeJSON(cmd.OutOrStdout(), bundle)
			}
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrapf(err, "history export: create %s", path)
			}
			if err := writeJSON(f, bundle); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return eris.Wrapf(err, "history export: close %s", path)
			}
			zap.L().Info("history exported", zap.String("path", path), zap.Int("samples", len(bundle.Samples)))
			return nil
		})
	},
}

// readBundle reads and validates the bundle named by the --in flag.
func readBundle(cmd *cobra.Command) (history.Bundle, error) {
	path, _ := cmd.Flags().GetString("in")
	raw, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return history.Bundle{}, err
	}
	return history.ParseBundle(raw)
}

var historyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import samples from a bundle, skipping known keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := readBundle(cmd)
		if err != nil {
			return err
		}
		return withStore(cmd, func(st *history.Store) error {
			res, err := st.ImportFrom(cmd.Context(), bundle.Samples)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		})
	},
}

var historyMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a peer's bundle, resolving conflicts by timestamp",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := readBundle(cmd)
		if err != nil {
			return err
		}
		peer, _ := cmd.Flags().GetString("peer")
		if peer == "" {
			peer = bundle.Workspace
		}
		if peer == "" {
			return eris.New("history merge: --peer is required when the bundle names no workspace")
		}
		return withStore(cmd, func(st *history.Store) error {
			res, err := st.MergeFrom(cmd.Context(), peer, bundle.Samples)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep only the newest samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep <= 0 {
			keep = cfg.History.RetentionLimit
		}
		return withStore(cmd, func(st *history.Store) error {
			n, err := st.PruneHistory(cmd.Context(), keep)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d sample(s), kept at most %d\n", n, keep)
			return nil
		})
	},
}

var historyCompressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Move old samples to the compressed cold tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("older-than-days")
		if days <= 0 {
			days = cfg.History.CompressAfterDays
		}
		return withStore(cmd, func(st *history.Store) error {
			n, err := st.CompressOld(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "compressed %d sample(s) older than %d day(s)\n", n, days)
			return nil
		})
	},
}

var historySyncsCmd = &cobra.Command{
	Use:   "syncs",
	Short: "Show the peer merge log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(cmd, func(st *history.Store) error {
			entries, err := st.Syncs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				zap.L().Info("no sync entries found, run 'history merge' to merge a peer bundle")
				return nil
			}
			formatSyncEntries(cmd.OutOrStdout(), entries)
			return nil
		})
	},
}

// formatSyncEntries writes a tabular representation of sync entries to w.
func formatSyncEntries(out io.Writer, entries []history.SyncEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPEER\tSTATUS\tSTARTED\tDURATION\tIMPORTED\tREPLACED\tSKIPPED\tREJECTED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t--------\t--------\t-------\t--------\t-----")

	for _, e := range entries {
		dur := "-"
		if !e.CompletedAt.IsZero() {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			e.ID,
			e.Peer,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.Imported,
			e.Replaced,
			e.Skipped,
			e.Rejected,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncate shortens s to max characters, adding "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func init() {
	historyStatsCmd.Flags().Int("window", 0, "rolling window size (0 = history.rolling_window)")
	historyExportCmd.Flags().String("out", "-", "output file, or - for stdout")
	historyImportCmd.Flags().String("in", "-", "bundle file, or - for stdin")
	historyMergeCmd.Flags().String("in", "-", "bundle file, or - for stdin")
	historyMergeCmd.Flags().String("peer", "", "peer name for the sync log (default: bundle workspace)")
	historyPruneCmd.Flags().Int("keep", 0, "samples to keep (0 = history.retention_limit)")
	historyCompressCmd.Flags().Int("older-than-days", 0, "age threshold in days (0 = history.compress_after_days)")
	historySyncsCmd.Flags().Int("limit", 20, "maximum entries to show")

	historyCmd.AddCommand(historyStatsCmd, historyExportCmd, historyImportCmd, historyMergeCmd,
		historyPruneCmd, historyCompressCmd, historySyncsCmd)
	rootCmd.AddCommand(historyCmd)
}
