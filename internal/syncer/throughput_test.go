// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThroughputMeter_SlidingWindow(t *testing.T) {
	m := newThroughputMeter(3 * time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	assert.Zero(t, m.Rate(), "no samples yet")
	m.Add(t0, 0)
	assert.Zero(t, m.Rate(), "one sample has no rate")

	// A slow start: 100 bytes in the first 10 seconds.
	m.Add(t0.Add(10*time.Second), 100)
	// Then 3000 bytes/s.
	m.Add(t0.Add(11*time.Second), 3100)
	m.Add(t0.Add(12*time.Second), 6100)
	m.Add(t0.Add(13*time.Second), 9100)

	assert.InDelta(t, 3000, m.Rate(), 0.01, "old samples must not dilute the rate")
	assert.LessOrEqual(t, len(m.samples), 4)
}

func TestThroughputMeter_Stall(t *testing.T) {
	m := newThroughputMeter(time.Second)
	t0 := time.Unix(0, 0)
	m.Add(t0, 500)
	m.Add(t0.Add(2*time.Second), 500)
	assert.Zero(t, m.Rate())
}

func TestETA(t *testing.T) {
	assert.Nil(t, eta(1000, 0), "zero throughput has no ETA")
	d := eta(1000, 500)
	require.NotNil(t, d)
	assert.Equal(t, 2*time.Second, *d)
}
