// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device defines the recorder data model and the driver contract that
// the transport serializer wraps.
package device

import "time"

// Session describes one live connection to a recorder.
type Session struct {
	Serial          string       `json:"serial"`
	Model           Model        `json:"model"`
	FirmwareVersion string       `json:"firmware_version"`
	FirmwareNumber  uint32       `json:"firmware_number"`
	Capabilities    Capabilities `json:"capabilities"`
}

// RemoteFile is one entry of a device listing. Size and duration are as declared by the device.
type RemoteFile struct {
	Name            string     `json:"name"`
	Size            int64      `json:"size"`
	DurationSeconds float64    `json:"duration_seconds"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	Mode            string     `json:"mode,omitempty"`
}

// BatteryStatus is a battery telemetry reading.
type BatteryStatus struct {
	Percent  int  `json:"percent"`
	Charging bool `json:"charging"`
}

// StorageInfo reports capacity of the device storage in bytes.
type StorageInfo struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// Used returns Total-Free, clamped at zero.
func (s StorageInfo) Used() uint64 {
	if s.Free > s.Total {
		return 0
	}
	return s.Total - s.Free
}
