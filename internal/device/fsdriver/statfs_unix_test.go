// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package fsdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/hidocu/internal/device"
)

func TestDriver_StorageUsesStatfs(t *testing.T) {
	d := New(t.TempDir(), device.ModelH1)
	_, err := d.Open(context.Background())
	require.NoError(t, err)

	info, err := d.Storage(context.Background())
	require.NoError(t, err)
	assert.Positive(t, info.Total)
	assert.LessOrEqual(t, info.Free, info.Total)
}
