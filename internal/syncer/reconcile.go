// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import (
	"context"
	"errors"

	"github.com/ManuGH/hidocu/internal/catalog"
	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/naming"
)

// Reconcile aligns the sync status of rows from deviceSerial with a full
// listing: rows still on the device become synced, the rest local only.
// It returns how many rows changed.
func (o *Orchestrator) Reconcile(ctx context.Context, deviceSerial string, listing []device.RemoteFile) (int, error) {
	onDevice := make(map[string]bool, len(listing))
	for _, f := range listing {
		onDevice[naming.Sanitize(f.Name)] = true
	}
	records, err := o.catalog.ListBySerial(ctx, deviceSerial)
	if err != nil {
		return 0, err
	}

	changed := 0
	var errs []error
	for _, r := range records {
		want := catalog.StatusLocalOnly
		if onDevice[r.Filename] {
			want = catalog.StatusSynced
		}
		if r.SyncStatus == want {
			continue
		}
		if err := o.catalog.UpdateSyncStatus(ctx, r.ID, want); err != nil {
			errs = append(errs, err)
			continue
		}
		changed++
	}
	if changed > 0 {
		o.logger.Info().
			Str(log.FieldEvent, "sync.reconciled").
			Str(log.FieldDeviceSerial, deviceSerial).
			Int("changed", changed).
			Msg("catalog status reconciled with device")
	}
	return changed, errors.Join(errs...)
}
