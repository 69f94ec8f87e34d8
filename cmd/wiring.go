package main

import (
	"context"
	"time"

	"github.com/sells-group/riskfusion/internal/config"
	"github.com/sells-group/riskfusion/internal/fusion"
	"github.com/sells-group/riskfusion/internal/history"
	"github.com/sells-group/riskfusion/internal/predictor"
	"github.com/sells-group/riskfusion/internal/resilience"
)

// openStore connects the configured history backend.
func openStore(ctx context.Context, c *config.Config) (*history.Store, error) {
	backend, err := history.Open(ctx, c.Store.Driver, c.Store.DSN(), c.Store.Workspace, &history.PoolConfig{
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	return history.NewStore(backend, storeOptions(c)), nil
}

func storeOptions(c *config.Config) history.Options {
	return history.Options{
		Workspace:      c.Store.Workspace,
		RetentionLimit: c.History.RetentionLimit,
		CompressAfter:  time.Duration(c.History.CompressAfterDays) * 24 * time.Hour,
		MinHotSamples:  c.History.MinHotSamples,
		AutoPrune:      c.History.AutoPrune,
	}
}

func remoteConfig(ep config.EndpointConfig, c *config.Config) predictor.RemoteConfig {
	return predictor.RemoteConfig{
		BaseURL: ep.URL,
		Model:   ep.Model,
		Timeout: time.Duration(ep.TimeoutMs) * time.Millisecond,
		QPS:     c.Predictors.MaxQPS,
		Burst:   c.Predictors.Burst,
		Retry:   resilience.RetryFromConfig(c.Resilience.RetryAttempts, c.Resilience.RetryBackoffMs),
	}
}

// newFusionEngine builds the engine with one remote loader per configured
// predictor. Predictors without a URL resolve as unavailable, except the
// uncertainty endpoint: without one the estimator resamples the primary.
func newFusionEngine(c *config.Config) *fusion.Engine {
	p := c.Predictors
	breakers := resilience.NewBreakers(resilience.BreakerFromConfig(
		c.Resilience.FailureThreshold, c.Resilience.ResetTimeoutSecs,
	))
	guard := predictor.NewGuard(breakers, time.Duration(p.CallTimeoutMs)*time.Millisecond)
	estimator := predictor.NewEstimator(guard, p.UncertaintySamples)

	loaders := fusion.Loaders{
		Primary:   predictor.NewRemoteLoader(remoteConfig(p.Primary, c)),
		Sequence:  predictor.NewRemoteLoader(remoteConfig(p.Sequence, c)),
		MultiHead: predictor.NewRemoteMultiHeadLoader(remoteConfig(p.MultiHead, c)),
	}
	if p.Uncertainty.URL != "" {
		loaders.Uncertainty = predictor.NewRemoteLoader(remoteConfig(p.Uncertainty, c))
	}
	return fusion.NewEngine(loaders, guard, estimator)
}
