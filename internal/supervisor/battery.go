// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/metrics"
	"github.com/ManuGH/hidocu/internal/resilience"
)

func (s *Supervisor) startPolling() {
	st := s.State()
	if st.Session == nil || !st.Session.Capabilities.BatteryTelemetry {
		return
	}
	s.stopPolling()
	if s.baseCtx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	done := make(chan struct{})
	s.mu.Lock()
	s.pollCancel = cancel
	s.pollDone = done
	s.mu.Unlock()
	s.breaker.Reset()

	go func() {
		defer close(done)
		s.pollBattery(ctx)
	}()
}

func (s *Supervisor) stopPolling() {
	s.mu.Lock()
	cancel, done := s.pollCancel, s.pollDone
	s.pollCancel, s.pollDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Supervisor) pollBattery(ctx context.Context) {
	ticker := time.NewTicker(s.opts.BatteryInterval)
	defer ticker.Stop()
	for {
		if !s.pollOnce(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce reads the battery through the transport. It returns false when
// polling should stop.
func (s *Supervisor) pollOnce(ctx context.Context) bool {
	var status device.BatteryStatus
	err := s.breaker.Execute(func() error {
		var err error
		status, err = s.transport.BatteryStatus(ctx)
		return err
	})
	switch {
	case err == nil:
		metrics.SetBattery(status.Percent, status.Charging)
		s.update(func(st *State) {
			if st.Phase == PhaseConnected {
				st.Battery = &status
			}
		})
		return true
	case ctx.Err() != nil:
		return false
	case device.IsNotConnected(err):
		s.logger.Info().Str(log.FieldEvent, "battery.poll_stopped").Msg("battery polling stopped: device not connected")
		return false
	case errors.Is(err, device.ErrBatteryUnsupported):
		s.logger.Debug().Str(log.FieldEvent, "battery.unsupported").Msg("battery telemetry unsupported")
		return false
	case errors.Is(err, resilience.ErrCircuitOpen):
		return true
	default:
		s.logger.Warn().Err(err).Str(log.FieldEvent, "battery.poll_failed").Msg("battery query failed")
		return true
	}
}
