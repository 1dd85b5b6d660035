// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"time"
)

// Backoff is a bounded exponential schedule. Attempts counts total tries,
// so a policy with Attempts=3 sleeps at most twice.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Factor   float64
	Max      time.Duration
}

// ConnectBackoff is the schedule between device connection attempts (1s, 2s, 4s).
func ConnectBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: time.Second, Factor: 2, Max: 4 * time.Second}
}

// VerifyBackoff is the shorter schedule for post-connection queries (0.5s, 1s, 2s).
func VerifyBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: 500 * time.Millisecond, Factor: 2, Max: 2 * time.Second}
}

func (b Backoff) normalized() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	if b.Factor < 1 {
		b.Factor = 1
	}
	if b.Initial < 0 {
		b.Initial = 0
	}
	return b
}

// Delay returns the wait after the n-th failed attempt (1-based).
func (b Backoff) Delay(n int) time.Duration {
	b = b.normalized()
	if n < 1 {
		n = 1
	}
	d := float64(b.Initial)
	for i := 1; i < n; i++ {
		d *= b.Factor
		if b.Max > 0 && time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	out := time.Duration(d)
	if b.Max > 0 && out > b.Max {
		out = b.Max
	}
	return out
}

// Schedule lists the delays slept between attempts.
func (b Backoff) Schedule() []time.Duration {
	b = b.normalized()
	out := make([]time.Duration, 0, b.Attempts-1)
	for n := 1; n < b.Attempts; n++ {
		out = append(out, b.Delay(n))
	}
	return out
}

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleeper sleeps on a timer.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
