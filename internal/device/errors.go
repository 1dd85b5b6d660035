// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means there is no open session with the device.
	ErrNotConnected = errors.New("device not connected")
	// ErrBatteryUnsupported is returned by models without battery telemetry.
	ErrBatteryUnsupported = errors.New("battery telemetry not supported")
	// ErrFileNotFound is returned when a named file is not on the device.
	ErrFileNotFound = errors.New("file not found on device")
)

// TransportError wraps a driver failure with the operation that caused it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotConnected reports whether err signals a lost or missing session.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
