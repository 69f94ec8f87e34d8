package calibrate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/history"
)

// DefaultInterval is the calibration cadence when none is configured.
const DefaultInterval = time.Hour

// Maintainer compacts the history between calibrations.
type Maintainer interface {
	Maintain(ctx context.Context) (history.MaintenanceResult, error)
}

// Scheduler runs maintenance and calibration periodically.
type Scheduler struct {
	engine     *Engine
	maintainer Maintainer
	interval   time.Duration
	window     int
}

// NewScheduler creates a scheduler. A nil maintainer skips maintenance.
func NewScheduler(engine *Engine, maintainer Maintainer, interval time.Duration, window int) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{engine: engine, maintainer: maintainer, interval: interval, window: window}
}

// Run calibrates once immediately and then on every tick. It blocks until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "calibrate.scheduler"))
	log.Info("starting calibration scheduler", zap.Duration("interval", s.interval))

	_, _ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("calibration scheduler stopped")
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one maintenance and calibration pass. Failures are
// logged; the next tick tries again.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	log := zap.L().With(zap.String("component", "calibrate.scheduler"))

	if s.maintainer != nil {
		m, err := s.maintainer.Maintain(ctx)
		if err != nil {
			log.Error("calibrate: history maintenance failed", zap.Error(err))
		} else if m.Compressed > 0 || m.Pruned > 0 {
			log.Info("calibrate: history maintained",
				zap.Int("compressed", m.Compressed),
				zap.Int("pruned", m.Pruned),
			)
		}
	}

	res, err := s.engine.Recalibrate(ctx, s.window)
	if err != nil {
		log.Error("calibrate: recalibration failed", zap.Error(err))
		return res, err
	}
	return res, nil
}
