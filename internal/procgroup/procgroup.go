// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup runs helper binaries in their own process group so a
// cancelled command takes its children down with it.
package procgroup

import (
	"os/exec"
	"time"
)

// Bind makes cmd a process group leader and replaces its cancel hook with a
// group kill. waitDelay bounds how long Wait blocks on inherited pipes after
// the kill.
func Bind(cmd *exec.Cmd, waitDelay time.Duration) {
	Set(cmd)
	cmd.Cancel = func() error { return Kill(cmd) }
	cmd.WaitDelay = waitDelay
}
