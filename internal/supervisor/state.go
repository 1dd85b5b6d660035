// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"fmt"

	"github.com/ManuGH/hidocu/internal/device"
)

// Phase is the connection lifecycle phase.
type Phase string

const (
	PhaseDisconnected     Phase = "disconnected"
	PhaseConnecting       Phase = "connecting"
	PhaseConnected        Phase = "connected"
	PhaseConnectionFailed Phase = "connection_failed"
)

// State is a snapshot of the supervisor. Attempt and MaxAttempts are set while
// connecting; Failure only in PhaseConnectionFailed.
type State struct {
	Phase       Phase                 `json:"phase"`
	Attempt     int                   `json:"attempt,omitempty"`
	MaxAttempts int                   `json:"max_attempts,omitempty"`
	Failure     *Failure              `json:"failure,omitempty"`
	Attached    bool                  `json:"attached"`
	DeviceID    string                `json:"device_id,omitempty"`
	Model       device.Model          `json:"model,omitempty"`
	Session     *device.Session       `json:"session,omitempty"`
	Battery     *device.BatteryStatus `json:"battery,omitempty"`
	Storage     *device.StorageInfo   `json:"storage,omitempty"`
}

// Message renders the state for a status line.
func (s State) Message() string {
	switch s.Phase {
	case PhaseConnecting:
		return fmt.Sprintf("Connecting (attempt %d/%d)", s.Attempt, s.MaxAttempts)
	case PhaseConnected:
		if s.Session != nil {
			return fmt.Sprintf("Connected to %s (%s)", s.Session.Serial, s.Session.Model)
		}
		return "Connected"
	case PhaseConnectionFailed:
		if s.Failure != nil {
			return s.Failure.Message
		}
		return "Connection failed"
	default:
		return "Disconnected"
	}
}

func (s State) clone() State {
	out := s
	if s.Failure != nil {
		f := *s.Failure
		out.Failure = &f
	}
	if s.Session != nil {
		v := *s.Session
		out.Session = &v
	}
	if s.Battery != nil {
		v := *s.Battery
		out.Battery = &v
	}
	if s.Storage != nil {
		v := *s.Storage
		out.Storage = &v
	}
	return out
}
