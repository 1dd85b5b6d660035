// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	slept []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return ctx.Err()
}

func TestBackoff_Schedule(t *testing.T) {
	tests := []struct {
		name string
		b    Backoff
		want []time.Duration
	}{
		{"connect", ConnectBackoff(), []time.Duration{time.Second, 2 * time.Second}},
		{"verify", VerifyBackoff(), []time.Duration{500 * time.Millisecond, time.Second}},
		{"capped", Backoff{Attempts: 5, Initial: time.Second, Factor: 3, Max: 5 * time.Second},
			[]time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second}},
		{"single attempt", Backoff{Attempts: 1, Initial: time.Second, Factor: 2}, []time.Duration{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.b.Schedule())
		})
	}
}

func TestBackoff_DelayThirdStep(t *testing.T) {
	assert.Equal(t, 4*time.Second, ConnectBackoff().Delay(3))
	assert.Equal(t, 2*time.Second, VerifyBackoff().Delay(3))
}

func TestRetry_ExhaustsAfterBound(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	var retried []int

	err := Retry(context.Background(), ConnectBackoff(), sleeper, func(context.Context, int) error {
		calls++
		return errBoom
	}, func(attempt int, _ error) { retried = append(retried, attempt) })

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.slept)
}

func TestRetry_SucceedsOnSecondAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	err := Retry(context.Background(), VerifyBackoff(), sleeper, func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return errBoom
		}
		return nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeper.slept)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("not connected")
	calls := 0
	err := Retry(context.Background(), ConnectBackoff(), &recordingSleeper{}, func(context.Context, int) error {
		calls++
		return Permanent(sentinel)
	}, nil)

	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsPermanent(err))
	assert.True(t, IsPermanent(Permanent(sentinel)))
	assert.Nil(t, Permanent(nil))
}

func TestRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := SleeperFunc(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	err := Retry(ctx, ConnectBackoff(), sleeper, func(context.Context, int) error {
		calls++
		return errBoom
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRealSleeper_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := RealSleeper{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
