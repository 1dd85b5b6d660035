// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package fsdriver

import (
	"errors"

	"github.com/ManuGH/hidocu/internal/device"
)

func statfs(string) (device.StorageInfo, error) {
	return device.StorageInfo{}, errors.New("storage query not supported on this platform")
}
