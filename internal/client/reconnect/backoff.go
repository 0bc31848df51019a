package reconnect

import (
	"github.com/cenkalti/backoff/v4"
)

// newBackOff returns the reconnect delay schedule:
// min(base * growth^(attempt-1), max), with no jitter and no overall deadline.
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          cfg.Growth,
		MaxInterval:         cfg.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
