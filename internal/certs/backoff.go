package certs

import (
	"context"
	"math/rand"
	"time"
)

// backoffPolicy is the exponential-backoff-with-jitter schedule the ACME
// path retries under: base 5s, doubling each attempt, capped at 5m, with
// +-20% jitter so a fleet of retrying clients doesn't thunder in lockstep.
type backoffPolicy struct {
	base   time.Duration
	cap    time.Duration
	jitter float64
	randFn func() float64
}

func defaultBackoff() backoffPolicy {
	return backoffPolicy{
		base:   5 * time.Second,
		cap:    5 * time.Minute,
		jitter: 0.2,
		randFn: rand.Float64,
	}
}

func (b backoffPolicy) delay(attempt int) time.Duration {
	d := b.base << attempt
	if d > b.cap || d <= 0 {
		d = b.cap
	}
	jitterRange := float64(d) * b.jitter
	offset := (b.randFn()*2 - 1) * jitterRange
	d = time.Duration(float64(d) + offset)
	if d < 0 {
		d = 0
	}
	return d
}

// retry calls fn up to maxAttempts times, sleeping per the backoff
// schedule between failures, stopping early if ctx is cancelled. Returns
// the last error if every attempt fails.
func (b backoffPolicy) retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
	}
	return lastErr
}
