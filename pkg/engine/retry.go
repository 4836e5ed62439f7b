package engine

import (
	"math"
	"time"
)

// nextDelay computes the backoff before re-invoking a failed state handler,
// per §4.1.3's three formulas.
func nextDelay(cfg *RetryConfig, attempt int) time.Duration {
	switch cfg.Strategy {
	case RetryExponential:
		d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
		if cfg.MaxDelay > 0 && time.Duration(d) > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return time.Duration(d)
	case RetryLinear:
		d := cfg.InitialDelay * time.Duration(attempt)
		if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return d
	default: // RetryFixed
		return cfg.InitialDelay
	}
}
