package workflow

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy computes the wait before retrying a failed node: base * 2^attempt, capped at max.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the backoff for a run that already retried attempt times.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt && delay < p.Max; i++ {
		delay = b.NextBackOff()
	}

	if delay > p.Max {
		delay = p.Max
	}

	return delay
}
