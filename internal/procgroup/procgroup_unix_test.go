// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBind_CancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// The background sleep inherits stdout, so Wait only returns before
	// WaitDelay when the whole group is gone.
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 100 & sleep 100")
	var out bytes.Buffer
	cmd.Stdout = &out
	Bind(cmd, 30*time.Second)
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	pgid, err := unix.Getpgid(pid)
	require.NoError(t, err)
	require.Equal(t, pid, pgid, "PID should be PGID leader")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("child kept the pipe open; group was not killed")
	}
}

func TestKill_AlreadyExited(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())
	assert.ErrorIs(t, Kill(cmd), os.ErrProcessDone)
	assert.NoError(t, Kill(&exec.Cmd{}))
}
