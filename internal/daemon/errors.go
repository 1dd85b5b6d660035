// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingRuntime is returned when an App is run without a runtime.
	ErrMissingRuntime = errors.New("runtime is required")

	// ErrIntegrityCheckFailed is returned when the startup catalog check reports problems.
	ErrIntegrityCheckFailed = errors.New("catalog integrity check failed")
)
