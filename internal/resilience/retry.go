// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"fmt"
)

// ExhaustedError is returned when every attempt of a Retry failed.
type ExhaustedError struct {
	Attempts int
	Err      error // last failure
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls fn up to policy.Attempts times, sleeping policy.Delay(n)
// between failures. onRetry, when set, runs before each sleep.
// A Permanent error is returned unwrapped without further attempts.
// Context cancellation is returned as-is.
func Retry(ctx context.Context, policy Backoff, sleeper Sleeper, fn func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error)) error {
	policy = policy.normalized()
	if sleeper == nil {
		sleeper = RealSleeper{}
	}

	var last error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		last = err
		if attempt == policy.Attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if err := sleeper.Sleep(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: policy.Attempts, Err: last}
}
