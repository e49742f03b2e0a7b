// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package retry provides a bounded retry loop with caller-chosen delays
// and an injectable sleeper for deterministic testing.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned (wrapped) when all attempts are used up without
// a final result. Use errors.Is to detect it.
var ErrExhausted = errors.New("retry attempts exhausted")

// Sleeper waits for the given duration or until the context is canceled.
// The default sleeper uses time.After; tests inject a recording fake.
type Sleeper func(ctx context.Context, d time.Duration) error

// DefaultSleeper returns a Sleeper backed by time.After.
func DefaultSleeper() Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
}

// Do calls f up to maxAttempts times.
//
// f returns the result, a retry delay, and an error:
//   - delay == 0 and err == nil: final result, returned immediately.
//   - delay > 0: transient condition; Do sleeps for delay and calls f again.
//     The result and error are discarded.
//   - delay == 0 and err != nil: hard failure, returned immediately.
//
// If every attempt is transient, Do returns an error wrapping ErrExhausted.
func Do[T any](
	ctx context.Context,
	maxAttempts int,
	sleep Sleeper,
	f func(ctx context.Context, attempt int) (T, time.Duration, error),
) (T, error) {
	var zero T
	for attempt := range maxAttempts {
		result, delay, err := f(ctx, attempt)
		if delay == 0 {
			return result, err
		}
		// Don't sleep after the last attempt.
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts", ErrExhausted, maxAttempts)
}
