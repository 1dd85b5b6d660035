// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package fsdriver

import (
	"golang.org/x/sys/unix"

	"github.com/ManuGH/hidocu/internal/device"
)

func statfs(path string) (device.StorageInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return device.StorageInfo{}, err
	}
	bsize := uint64(st.Bsize) //nolint:gosec // block size is positive
	return device.StorageInfo{
		Total: uint64(st.Blocks) * bsize,
		Free:  uint64(st.Bavail) * bsize,
	}, nil
}
