// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/catalog"
	"github.com/ManuGH/hidocu/internal/fsutil"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/metrics"
	"github.com/ManuGH/hidocu/internal/naming"
)

// Import copies local files into storage and catalogues them as local only.
// An existing recording with the same name is always moved to a backup name
// first. No device is involved.
func (o *Orchestrator) Import(ctx context.Context, paths []string) (Result, error) {
	if err := o.storage.EnsureStorageDirectoryExists(); err != nil {
		return Result{}, err
	}
	runCtx, s, err := o.begin(ctx, ImportKey, KindImport)
	if err != nil {
		return Result{}, err
	}
	logger := o.logger.With().Str(log.FieldSessionID, s.progress.SessionID).Logger()

	var res Result
	defer func() { o.end(ImportKey, s, res) }()

	type item struct {
		path string
		size int64
	}
	var (
		items    []item
		failures []error
		total    int64
	)
	for _, p := range paths {
		size, err := fsutil.FileSize(p)
		if err != nil {
			failures = append(failures, &FileError{Filename: filepath.Base(p), Err: err})
			continue
		}
		items = append(items, item{path: p, size: size})
		total += size
	}
	s.setExpected(total, len(paths))
	for range failures {
		metrics.RecordSyncFile(string(KindImport), string(OutcomeFailed))
		s.finishFile(0, OutcomeFailed)
	}
	s.setPhase(PhaseImporting)
	runCtx, span := o.startRunSpan(runCtx, s, KindImport, len(items), total)
	defer func() { endRunSpan(span, res) }()
	logger.Info().Str(log.FieldEvent, "import.start").Int("files", len(paths)).Msg("import started")

	for i, it := range items {
		if stopped(runCtx, s) {
			break
		}
		s.beginFile(i, filepath.Base(it.path), it.size)
		fileCtx, fileSpan := o.startFileSpan(runCtx, filepath.Base(it.path), it.size)
		outcome, ferr := o.importFile(fileCtx, it.path, it.size, logger)
		endFileSpan(fileSpan, outcome, ferr)
		if ferr != nil {
			failures = append(failures, &FileError{Filename: filepath.Base(it.path), Err: ferr})
			logger.Warn().Err(ferr).Str(log.FieldEvent, "import.file_failed").Str(log.FieldPath, it.path).Msg("import failed")
		}
		metrics.RecordSyncFile(string(KindImport), string(outcome))
		s.finishFile(it.size, outcome)
	}

	res = o.result(runCtx, s, failures)
	logger.Info().
		Str(log.FieldEvent, "import.finish").
		Int("imported", res.Stats.Downloaded).
		Int("failed", res.Stats.Failed).
		Bool("cancelled", res.Cancelled).
		Msg(firstLine(res.Message()))
	return res, nil
}

func (o *Orchestrator) importFile(ctx context.Context, src string, size int64, logger zerolog.Logger) (Outcome, error) {
	name := naming.Sanitize(filepath.Base(src))
	flog := logger.With().Str(log.FieldFilename, name).Logger()

	rec, err := o.catalog.FetchByFilename(ctx, name)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("catalog lookup: %w", err)
	}
	if rec != nil {
		if err := o.moveAside(ctx, rec, flog); err != nil {
			return OutcomeFailed, err
		}
	}
	if o.storage.Exists(name) {
		stray := naming.ResolveBackup(name, o.nameTaken(ctx))
		abs, err := o.storage.AbsolutePath(name)
		if err != nil {
			return OutcomeFailed, err
		}
		if _, err := o.storage.RenameFile(abs, stray); err != nil {
			return OutcomeFailed, fmt.Errorf("move uncatalogued file aside: %w", err)
		}
		flog.Warn().Str(log.FieldBackupName, stray).Msg("uncatalogued file with the same name moved aside")
	}

	final, err := o.storage.CopyToStorage(src, name)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("copy into storage: %w", err)
	}
	rel, err := o.storage.RelativePath(final)
	if err != nil {
		_ = o.storage.Remove(final)
		return OutcomeFailed, fmt.Errorf("storage path: %w", err)
	}

	r := &catalog.Record{
		Filename:        name,
		FilePath:        rel,
		Title:           titleOf(name),
		SizeBytes:       catalog.Int64(size),
		DurationSeconds: o.probeDuration(ctx, final, 0, flog),
		SyncStatus:      catalog.StatusLocalOnly,
	}
	if err := o.catalog.Insert(ctx, r); err != nil {
		_ = o.storage.Remove(final)
		return OutcomeFailed, fmt.Errorf("catalog insert: %w", err)
	}
	metrics.AddSyncBytes(size)
	flog.Info().Str(log.FieldEvent, "import.file_imported").Int64(log.FieldRecordID, r.ID).Msg("recording imported")
	return OutcomeDownloaded, nil
}

func titleOf(filename string) string {
	base, _ := naming.SplitExt(filename)
	return base
}
