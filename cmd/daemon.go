package main

import (
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/calibrate"
	"github.com/sells-group/riskfusion/internal/monitoring"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled calibration and health checks",
	Long:  "Runs history maintenance and weight recalibration on calibration.interval_mins, and the monitoring checker when enabled, until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("daemon"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		log := zap.L().With(zap.String("component", "daemon"))
		var wg sync.WaitGroup

		if cfg.Calibration.Enabled {
			engine := calibrate.NewEngine(st, cfg.Calibration.Window)
			sched := calibrate.NewScheduler(engine, st,
				time.Duration(cfg.Calibration.IntervalMins)*time.Minute, cfg.Calibration.Window)
			wg.Go(func() { sched.Run(ctx) })
		} else {
			log.Info("calibration disabled")
		}

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(st, cfg.History.RollingWindow, cfg.Monitoring.TelemetryPath)
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			wg.Go(func() { checker.Run(ctx) })
		} else {
			log.Info("monitoring disabled")
		}

		log.Info("daemon started", zap.String("workspace", cfg.Store.Workspace))
		<-ctx.Done()
		wg.Wait()
		log.Info("daemon stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
