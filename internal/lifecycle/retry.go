package lifecycle

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"notifyd/models"
)

// NextDelay computes the delay before the next retry attempt.
// ExponentialWithJitter defers its delay computation to
// cenkalti/backoff/v5's ExponentialBackOff rather than hand-rolled
// jitter math, then clamps to Max.
func NextDelay(p models.RetryPolicy, attempt int) time.Duration {
	switch p.Backoff {
	case models.BackoffFixed:
		return clamp(p.Base, p.Max)
	case models.BackoffLinear:
		d := p.Base + p.Increment*time.Duration(attempt)
		return clamp(d, p.Max)
	case models.BackoffExponentialWithJitter:
		return nextExponentialDelay(p, attempt)
	default:
		return clamp(p.Base, p.Max)
	}
}

func nextExponentialDelay(p models.RetryPolicy, attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := p.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	jitter := p.Jitter
	if jitter < 0 {
		jitter = 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: jitter,
		Multiplier:          multiplier,
		MaxInterval:         max,
	}
	b.Reset()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return clamp(d, max)
}

func clamp(d, max time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
