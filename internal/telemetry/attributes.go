// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Device attributes
	DeviceOpKey     = "device.op"
	DeviceFileKey   = "device.file"
	DeviceSerialKey = "device.serial"
	DeviceModelKey  = "device.model"

	// Sync attributes
	SyncSessionKey = "sync.session_id"
	SyncKindKey    = "sync.kind"
	SyncFilesKey   = "sync.files"
	SyncBytesKey   = "sync.bytes_expected"
	SyncOutcomeKey = "sync.outcome"
)

// DeviceAttributes creates span attributes for one serialized device operation.
func DeviceAttributes(op, file string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(DeviceOpKey, op)}
	if file != "" {
		attrs = append(attrs, attribute.String(DeviceFileKey, file))
	}
	return attrs
}

// SessionAttributes describes a device session.
func SessionAttributes(serial, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DeviceSerialKey, serial),
		attribute.String(DeviceModelKey, model),
	}
}

// SyncAttributes describes a sync or import run.
func SyncAttributes(sessionID, kind string, files int, bytesExpected int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SyncSessionKey, sessionID),
		attribute.String(SyncKindKey, kind),
		attribute.Int(SyncFilesKey, files),
		attribute.Int64(SyncBytesKey, bytesExpected),
	}
}
