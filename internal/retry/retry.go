// Package retry implements bounded retries with exponential backoff.
//
// The reconciliation path retries version conflicts and webhook deliveries;
// everything else fails fast. Wrap an error with Permanent to stop a retry
// loop immediately.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error as not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times. The delay doubles after every failed
// attempt, starting at baseDelay, with ±25% jitter so concurrent retriers of
// the same row do not collide again in lockstep. Returns the last error, the
// unwrapped permanent error, or ctx.Err() if cancelled mid-backoff.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return run(ctx, maxAttempts, baseDelay, nil, nil, fn)
}

// DoWithUnlock is Do for callers holding a per-key lock: the lock is released
// via unlock before each backoff sleep and re-acquired via relock after, so a
// slow retry does not starve other work on the same shard. fn always runs
// with the lock held, and the lock is held again when DoWithUnlock returns
// through the retry path (including cancellation).
func DoWithUnlock(ctx context.Context, maxAttempts int, baseDelay time.Duration,
	unlock func(), relock func(), fn func() error) error {
	return run(ctx, maxAttempts, baseDelay, unlock, relock, fn)
}

func run(ctx context.Context, maxAttempts int, baseDelay time.Duration,
	unlock func(), relock func(), fn func() error) error {

	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay

	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			return err
		}

		if unlock != nil {
			unlock()
		}

		select {
		case <-ctx.Done():
			if relock != nil {
				relock()
			}
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}

		if relock != nil {
			relock()
		}
		delay *= 2
	}
}

// jittered spreads d over [0.75d, 1.25d].
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	quarter := int64(d / 4)
	return d - time.Duration(quarter) + time.Duration(rand.Int64N(2*quarter+1))
}
