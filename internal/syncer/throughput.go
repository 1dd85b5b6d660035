// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import "time"

type sample struct {
	at    time.Time
	bytes int64
}

// throughputMeter derives a rate from the samples inside a sliding window, so
// a slow start or a stalled earlier file does not dilute the current speed.
type throughputMeter struct {
	window  time.Duration
	samples []sample
}

func newThroughputMeter(window time.Duration) *throughputMeter {
	if window <= 0 {
		window = 3 * time.Second
	}
	return &throughputMeter{window: window}
}

// Add records the cumulative byte count at time at.
func (m *throughputMeter) Add(at time.Time, total int64) {
	m.samples = append(m.samples, sample{at: at, bytes: total})
	cutoff := at.Add(-m.window)
	// Keep one sample at or before the cutoff as the window's left edge.
	drop := 0
	for drop+1 < len(m.samples) && !m.samples[drop+1].at.After(cutoff) {
		drop++
	}
	if drop > 0 {
		m.samples = append(m.samples[:0], m.samples[drop:]...)
	}
}

// Rate returns bytes per second over the window, or 0 without enough data.
func (m *throughputMeter) Rate() float64 {
	if len(m.samples) < 2 {
		return 0
	}
	first, last := m.samples[0], m.samples[len(m.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 || last.bytes <= first.bytes {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

// eta returns the remaining time at rate, or nil when it cannot be known.
func eta(remaining int64, rate float64) *time.Duration {
	if rate <= 0 || remaining < 0 {
		return nil
	}
	d := time.Duration(float64(remaining) / rate * float64(time.Second))
	return &d
}
