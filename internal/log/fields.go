// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldDeviceSerial  = "device_serial"
	FieldDeviceModel   = "device_model"
	FieldDeviceID      = "device_id"
	FieldRecordID      = "record_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOp        = "op"
	FieldAttempt   = "attempt"
	FieldMax       = "max_attempts"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// File fields
	FieldFilename   = "filename"
	FieldBackupName = "backup_name"
	FieldPath       = "path"
	FieldFinalPath  = "final_path"
	FieldSize       = "size_bytes"
)
