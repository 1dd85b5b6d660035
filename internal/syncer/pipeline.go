// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/catalog"
	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/media"
	"github.com/ManuGH/hidocu/internal/metrics"
	"github.com/ManuGH/hidocu/internal/naming"
)

// syncFile runs lookup, conflict resolution, download, validation, relocation
// and commit for one remote file.
func (o *Orchestrator) syncFile(ctx context.Context, s *session, dev device.Session, f device.RemoteFile, logger zerolog.Logger) (Outcome, error) {
	name := naming.Sanitize(f.Name)
	flog := logger.With().Str(log.FieldFilename, name).Logger()

	rec, err := o.catalog.FetchByFilename(ctx, name)
	if err != nil {
		if stopped(ctx, s) {
			return "", ErrCancelled
		}
		return OutcomeFailed, fmt.Errorf("catalog lookup: %w", err)
	}
	if rec != nil {
		// Legacy rows without a size count as a match.
		if size, known := rec.Size(); !known || size == f.Size {
			flog.Debug().Str(log.FieldEvent, "sync.file_skipped").Msg("already catalogued")
			return OutcomeSkipped, nil
		}
		if err := o.moveAside(ctx, rec, flog); err != nil {
			return OutcomeFailed, err
		}
	}

	if stopped(ctx, s) {
		return "", ErrCancelled
	}

	tmp := o.storage.TempPath(name)
	moved := false
	defer func() {
		if !moved {
			if err := o.storage.Remove(tmp); err != nil {
				flog.Warn().Err(err).Str(log.FieldPath, tmp).Msg("remove temp file")
			}
		}
	}()

	n, err := o.transport.DownloadFile(ctx, f.Name, f.Size, tmp, func(done, _ int64) {
		s.fileProgress(done)
	})
	if err != nil {
		if stopped(ctx, s) {
			return "", ErrCancelled
		}
		return OutcomeFailed, fmt.Errorf("download: %w", err)
	}
	if n != f.Size {
		return OutcomeFailed, &SizeMismatchError{Filename: name, Expected: f.Size, Got: n}
	}

	// The bytes are here; finish the file even if a cancel arrived meanwhile.
	commitCtx := context.WithoutCancel(ctx)

	duration := o.probeDuration(commitCtx, tmp, f.DurationSeconds, flog)

	final, err := o.relocate(commitCtx, tmp, name, flog)
	if err != nil {
		return OutcomeFailed, err
	}
	moved = true

	rel, err := o.storage.RelativePath(final)
	if err != nil {
		_ = o.storage.Remove(final)
		return OutcomeFailed, fmt.Errorf("storage path: %w", err)
	}

	r := &catalog.Record{
		Filename:        name,
		FilePath:        rel,
		SizeBytes:       catalog.Int64(f.Size),
		DurationSeconds: duration,
		RecordedAt:      f.CreatedAt,
		DeviceSerial:    dev.Serial,
		DeviceModel:     string(dev.Model),
		RecordingMode:   f.Mode,
		SyncStatus:      catalog.StatusSynced,
	}
	if err := o.catalog.Insert(commitCtx, r); err != nil {
		// No row means no file; a later sync retries cleanly.
		if rmErr := o.storage.Remove(final); rmErr != nil {
			flog.Warn().Err(rmErr).Str(log.FieldFinalPath, final).Msg("remove uncommitted file")
		}
		return OutcomeFailed, fmt.Errorf("catalog insert: %w", err)
	}

	metrics.AddSyncBytes(n)
	flog.Info().
		Str(log.FieldEvent, "sync.file_downloaded").
		Int64(log.FieldSize, n).
		Int64(log.FieldRecordID, r.ID).
		Msg("recording stored")
	return OutcomeDownloaded, nil
}

// nameTaken reports whether name is used on disk or in the catalog. A catalog
// error counts as taken so probing moves on to the next candidate.
func (o *Orchestrator) nameTaken(ctx context.Context) naming.ExistsFunc {
	return func(name string) bool {
		if o.storage.Exists(name) {
			return true
		}
		ok, err := o.catalog.ExistsByFilename(ctx, name)
		return err != nil || ok
	}
}

// moveAside renames an existing recording and its catalog row to a free
// backup name. It must complete before a row with the original name is
// inserted, because filenames are unique in the catalog.
func (o *Orchestrator) moveAside(ctx context.Context, rec *catalog.Record, logger zerolog.Logger) error {
	backup := naming.ResolveBackup(rec.Filename, o.nameTaken(ctx))
	fail := func(err error) error {
		return &ConflictError{Filename: rec.Filename, Backup: backup, Err: err}
	}

	abs := rec.FilePath
	if !filepath.IsAbs(abs) {
		var err error
		if abs, err = o.storage.AbsolutePath(rec.FilePath); err != nil {
			return fail(err)
		}
	}

	var rel string
	renamed, err := o.storage.RenameFile(abs, backup)
	switch {
	case err == nil:
		if rel, err = o.storage.RelativePath(renamed); err != nil {
			o.undoRename(renamed, rec.Filename, logger)
			return fail(err)
		}
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn().Str(log.FieldPath, abs).Msg("catalogued file missing on disk, renaming row only")
		rel = path.Join(path.Dir(filepath.ToSlash(rec.FilePath)), backup)
	default:
		return fail(err)
	}

	if err := o.catalog.UpdateFilePath(ctx, rec.ID, rel, backup); err != nil {
		if renamed != "" {
			o.undoRename(renamed, rec.Filename, logger)
		}
		return fail(err)
	}
	if err := o.catalog.UpdateSyncStatus(ctx, rec.ID, catalog.StatusLocalOnly); err != nil {
		logger.Warn().Err(err).Int64(log.FieldRecordID, rec.ID).Msg("mark backup local only")
	}

	metrics.RecordSyncConflict()
	logger.Info().
		Str(log.FieldEvent, "sync.conflict_resolved").
		Str(log.FieldBackupName, backup).
		Int64(log.FieldRecordID, rec.ID).
		Msg("existing recording moved to backup name")
	return nil
}

func (o *Orchestrator) undoRename(renamed, original string, logger zerolog.Logger) {
	if _, err := o.storage.RenameFile(renamed, original); err != nil {
		logger.Error().Err(err).Str(log.FieldPath, renamed).Msg("restore original name after failed conflict resolution")
	}
}

// relocate moves tmp into storage as name. A file already occupying name
// without a catalog row is moved to a backup name first.
func (o *Orchestrator) relocate(ctx context.Context, tmp, name string, logger zerolog.Logger) (string, error) {
	if o.storage.Exists(name) {
		stray := naming.ResolveBackup(name, o.nameTaken(ctx))
		abs, err := o.storage.AbsolutePath(name)
		if err != nil {
			return "", fmt.Errorf("relocate: %w", err)
		}
		if _, err := o.storage.RenameFile(abs, stray); err != nil {
			return "", fmt.Errorf("move uncatalogued file aside: %w", err)
		}
		logger.Warn().Str(log.FieldBackupName, stray).Msg("uncatalogued file with the same name moved aside")
	}
	final, err := o.storage.MoveToStorage(tmp, name)
	if err != nil {
		return "", fmt.Errorf("relocate: %w", err)
	}
	return final, nil
}

// probeDuration returns the probed duration, or fallback when probing is not
// possible. Size already proved integrity, so probe errors are only logged.
func (o *Orchestrator) probeDuration(ctx context.Context, p string, fallback float64, logger zerolog.Logger) float64 {
	if o.prober == nil {
		return fallback
	}
	info, err := o.prober.Probe(ctx, p)
	switch {
	case errors.Is(err, media.ErrUnsupportedFormat):
		logger.Debug().Msg("format not probeable, trusting size check")
		return fallback
	case err != nil:
		logger.Warn().Err(err).Msg("audio probe failed, keeping file")
		return fallback
	case info.DurationSeconds <= 0:
		return fallback
	}
	return info.DurationSeconds
}
