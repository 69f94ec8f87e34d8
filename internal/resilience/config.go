package resilience

import "time"

// BreakerFromConfig converts config values to a BreakerConfig.
func BreakerFromConfig(failureThreshold, coolDownSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if coolDownSecs > 0 {
		cfg.CoolDown = time.Duration(coolDownSecs) * time.Second
	}
	return cfg
}

// RetryFromConfig converts config values to a RetryPolicy.
func RetryFromConfig(attempts, backoffMs int) RetryPolicy {
	p := DefaultRetryPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if backoffMs > 0 {
		p.Backoff = time.Duration(backoffMs) * time.Millisecond
	}
	return p
}
