// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/hidocu/internal/resilience"
)

// FailureReason is the classified cause of a terminal connection failure.
type FailureReason string

const (
	ReasonTimeout            FailureReason = "timeout"
	ReasonDeviceBusy         FailureReason = "device_busy"
	ReasonCommunicationError FailureReason = "communication_error"
)

// Failure is the stable payload of PhaseConnectionFailed.
type Failure struct {
	Reason  FailureReason `json:"reason"`
	Detail  string        `json:"detail,omitempty"`
	Message string        `json:"message"`
}

var (
	timeoutMarkers = []string{"timeout", "timed out", "deadline exceeded"}
	busyMarkers    = []string{"busy", "in use", "claimed by another", "access denied"}
)

// Classify maps a connection error to a Failure by inspecting its text.
func Classify(err error) Failure {
	if err == nil {
		return Failure{Reason: ReasonCommunicationError, Message: "Could not communicate with the device."}
	}
	var exhausted *resilience.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Err != nil {
		err = exhausted.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutFailure()
	}
	text := strings.ToLower(err.Error())
	for _, m := range timeoutMarkers {
		if strings.Contains(text, m) {
			return timeoutFailure()
		}
	}
	for _, m := range busyMarkers {
		if strings.Contains(text, m) {
			return Failure{
				Reason:  ReasonDeviceBusy,
				Message: "The device is busy or in use by another application. Close other apps using the recorder and retry.",
			}
		}
	}
	return Failure{
		Reason:  ReasonCommunicationError,
		Detail:  err.Error(),
		Message: fmt.Sprintf("Could not communicate with the device: %s", err.Error()),
	}
}

func timeoutFailure() Failure {
	return Failure{
		Reason:  ReasonTimeout,
		Message: "The device did not respond in time. Reconnect the cable and retry.",
	}
}

// ConnectError is returned by ConnectWithRetry after the attempts ran out.
type ConnectError struct {
	Attempts int
	Failure  Failure
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed after %d attempts (%s): %v", e.Attempts, e.Failure.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
