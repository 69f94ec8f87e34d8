package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/riskfusion/internal/signals"
)

// signalsOutput is the payload printed by the signals command.
type signalsOutput struct {
	Signals  signals.Signals      `json:"signals"`
	Decision signals.MetaDecision `json:"decision"`
}

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Derive control signals from cross-system telemetry",
	Long:  "Reads a telemetry YAML file and prints the normalized control signals and the meta decision derived from them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("telemetry")
		if path == "" {
			path = cfg.Monitoring.TelemetryPath
		}
		if path == "" {
			return eris.New("signals: --telemetry is required (or set monitoring.telemetry_path)")
		}

		var t signals.Telemetry
		var err error
		if path == "-" {
			raw, rerr := readInput(cmd.InOrStdin(), path)
			if rerr != nil {
				return rerr
			}
			t, err = signals.ParseTelemetry(raw)
		} else {
			t, err = signals.LoadTelemetry(path)
		}
		if err != nil {
			return err
		}

		s := signals.ComputeSignals(t)
		return writeJSON(cmd.OutOrStdout(), signalsOutput{
			Signals:  s,
			Decision: signals.ComputeMetaDecision(s),
		})
	},
}

func init() {
	signalsCmd.Flags().String("telemetry", "", "telemetry YAML file, or - for stdin")
	rootCmd.AddCommand(signalsCmd)
}
