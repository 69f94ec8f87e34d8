package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/riskfusion/internal/calibrate"
	"github.com/sells-group/riskfusion/internal/history"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Recompute fusion weights from recent outcomes",
	Long:  "Measures each predictor's accuracy over the newest samples and writes the normalized accuracies as the next fusion weight version.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("calibrate"); err != nil {
			return err
		}
		window, _ := cmd.Flags().GetInt("window")
		if window <= 0 {
			window = cfg.Calibration.Window
		}
		return withStore(cmd, func(st *history.Store) error {
			res, err := calibrate.NewEngine(st, window).Recalibrate(cmd.Context(), window)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		})
	},
}

func init() {
	calibrateCmd.Flags().Int("window", 0, "samples to calibrate on (0 = calibration.window)")
	rootCmd.AddCommand(calibrateCmd)
}
