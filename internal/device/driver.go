// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"io"
)

// ProgressFunc receives bytes written so far and the declared total.
type ProgressFunc func(done, total int64)

// Driver is the opaque device surface. Implementations are not safe for
// concurrent use; callers must go through the transport serializer.
type Driver interface {
	Open(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
	List(ctx context.Context) ([]RemoteFile, error)
	Download(ctx context.Context, name string, size int64, w io.Writer, progress ProgressFunc) (int64, error)
	Delete(ctx context.Context, name string) error
	Battery(ctx context.Context) (BatteryStatus, error)
	Storage(ctx context.Context) (StorageInfo, error)
	// KeepAlive pings the device; called periodically by the owner of the session.
	KeepAlive(ctx context.Context) error
}
