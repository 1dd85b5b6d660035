// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"errors"
	"time"
)

var (
	// ErrFilenameTaken is returned when a record with the same filename exists.
	ErrFilenameTaken = errors.New("catalog: filename already recorded")
	// ErrNotFound is returned by mutations addressing a missing record.
	ErrNotFound = errors.New("catalog: record not found")
)

// SyncStatus tells where a recording currently lives.
type SyncStatus string

const (
	StatusLocalOnly    SyncStatus = "local_only"
	StatusOnDeviceOnly SyncStatus = "on_device_only"
	StatusSynced       SyncStatus = "synced"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusLocalOnly, StatusOnDeviceOnly, StatusSynced:
		return true
	}
	return false
}

// Record is one catalogued recording.
//
// SizeBytes is nil for rows written before sizes were tracked; callers must
// treat those as "size unknown", not as zero.
type Record struct {
	ID               int64      `json:"id"`
	Filename         string     `json:"filename"`
	FilePath         string     `json:"file_path"`
	Title            string     `json:"title,omitempty"`
	SizeBytes        *int64     `json:"size_bytes,omitempty"`
	DurationSeconds  float64    `json:"duration_seconds"`
	CreatedAt        time.Time  `json:"created_at"`
	ModifiedAt       time.Time  `json:"modified_at"`
	RecordedAt       *time.Time `json:"recorded_at,omitempty"`
	DeviceSerial     string     `json:"device_serial,omitempty"`
	DeviceModel      string     `json:"device_model,omitempty"`
	RecordingMode    string     `json:"recording_mode,omitempty"`
	SyncStatus       SyncStatus `json:"sync_status"`
	PlaybackPosition float64    `json:"playback_position"`
}

// Size returns the recorded size and whether it is known.
func (r *Record) Size() (int64, bool) {
	if r == nil || r.SizeBytes == nil {
		return 0, false
	}
	return *r.SizeBytes, true
}

// Int64 is a helper for populating optional size fields.
func Int64(v int64) *int64 { return &v }
