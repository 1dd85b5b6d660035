// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storage manages the permanent recordings directory and the temp
// area downloads stream into.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/fsutil"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/naming"
)

const (
	tempPrefix = ".part-"
	// maxTempExt bounds the extension carried into temp names.
	maxTempExt = 16
)

var (
	// ErrExists is returned instead of overwriting an existing file.
	ErrExists = errors.New("destination already exists")
	// ErrOutsideStorage is returned for paths that are not under the storage root.
	ErrOutsideStorage = errors.New("path is outside storage")
)

// Store is the local storage collaborator. Root holds recordings; TempDir
// holds in-flight downloads.
type Store struct {
	root    string
	tempDir string
	logger  zerolog.Logger
}

// New returns a Store. tempDir defaults to <root>/.incoming so renames stay on
// one filesystem.
func New(root, tempDir string) *Store {
	if tempDir == "" {
		tempDir = filepath.Join(root, ".incoming")
	}
	return &Store{root: root, tempDir: tempDir, logger: log.WithComponent("storage")}
}

// Root returns the storage root.
func (s *Store) Root() string { return s.root }

// EnsureStorageDirectoryExists creates the root and temp directories.
func (s *Store) EnsureStorageDirectoryExists() error {
	for _, dir := range []string{s.root, s.tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage directory %s: %w", dir, err)
		}
	}
	return nil
}

// TempPath returns a fresh temp path for a download of name. Two calls never
// return the same path. Only the extension of name is kept, so the file can be
// probed before it is moved into storage and the temp name stays short for
// any name storage accepts.
func (s *Store) TempPath(name string) string {
	return filepath.Join(s.tempDir, tempName(name))
}

func tempName(name string) string {
	ext := filepath.Ext(naming.Sanitize(name))
	if len(ext) > maxTempExt {
		ext = ""
	}
	return tempPrefix + uuid.NewString() + ext
}

func (s *Store) destination(filename string) (string, error) {
	safe := naming.Sanitize(filename)
	if safe != filename {
		return "", fmt.Errorf("unsafe filename %q", filename)
	}
	return fsutil.ConfineRelPath(s.root, safe)
}

// Exists reports whether filename is present in the storage root.
func (s *Store) Exists(filename string) bool {
	p, err := s.destination(filename)
	if err != nil {
		return false
	}
	_, err = os.Lstat(p)
	return err == nil
}

// MoveToStorage moves tempPath to <root>/<filename> and returns the final
// path. It never replaces an existing file.
func (s *Store) MoveToStorage(tempPath, filename string) (string, error) {
	dst, err := s.destination(filename)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, dst)
	}
	err = os.Rename(tempPath, dst)
	if err == nil {
		return dst, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return "", fmt.Errorf("move to storage: %w", err)
	}

	s.logger.Debug().Str(log.FieldPath, tempPath).Msg("temp dir on another device, copying")
	if err := durableCopy(tempPath, dst); err != nil {
		return "", err
	}
	if err := os.Remove(tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn().Err(err).Str(log.FieldPath, tempPath).Msg("remove temp after copy")
	}
	return dst, nil
}

// CopyToStorage copies src to <root>/<filename> atomically and durably. The
// data is staged in the temp dir and then moved into place.
func (s *Store) CopyToStorage(src, filename string) (string, error) {
	if err := fsutil.IsRegularFile(src); err != nil {
		return "", err
	}
	dst, err := s.destination(filename)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, dst)
	}
	tmp := s.TempPath(filename)
	if err := durableCopy(src, tmp); err != nil {
		return "", err
	}
	out, err := s.MoveToStorage(tmp, filename)
	if err != nil {
		_ = s.Remove(tmp)
		return "", err
	}
	return out, nil
}

// durableCopy writes src to dst through a renameio pending file: fsync then
// rename. Unless dst already is a temp name, the pending file is built from a
// short staging name next to dst, so long names never overflow NAME_MAX.
func durableCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	staged := dst
	if !strings.HasPrefix(filepath.Base(dst), tempPrefix) {
		staged = filepath.Join(filepath.Dir(dst), tempName(dst))
	}
	pending, err := renameio.NewPendingFile(staged, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("copy data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", staged, err)
	}
	if staged == dst {
		return nil
	}
	if err := os.Rename(staged, dst); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("move %s into place: %w", filepath.Base(dst), err)
	}
	return nil
}

// RelativePath returns abs relative to the storage root, slash separated.
func (s *Store) RelativePath(abs string) (string, error) {
	rel, err := fsutil.RelWithin(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsideStorage, err)
	}
	return rel, nil
}

// AbsolutePath resolves a catalog relative path.
func (s *Store) AbsolutePath(rel string) (string, error) {
	p, err := fsutil.ConfineRelPath(s.root, filepath.FromSlash(rel))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsideStorage, err)
	}
	return p, nil
}

// RenameFile renames abs to newName in the same directory and returns the new
// path. An existing target is never replaced.
func (s *Store) RenameFile(abs, newName string) (string, error) {
	if naming.Sanitize(newName) != newName {
		return "", fmt.Errorf("unsafe filename %q", newName)
	}
	src, err := fsutil.ConfineAbsPath(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsideStorage, err)
	}
	dst := filepath.Join(filepath.Dir(src), newName)
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, dst)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("rename %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}

// GenerateBackupFilename returns the first <base>_backup_<n>.<ext> not on disk.
func (s *Store) GenerateBackupFilename(filename string) string {
	return naming.ResolveBackup(filename, s.Exists)
}

// Remove deletes path; a missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// CleanTemp removes leftover partial downloads and staged copies from an
// earlier run, in the temp dir and the storage root.
func (s *Store) CleanTemp() (int, error) {
	var matches []string
	for _, dir := range []string{s.tempDir, s.root} {
		// renameio pending files add one more leading dot.
		for _, pattern := range []string{tempPrefix + "*", "." + tempPrefix + "*"} {
			m, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return 0, err
			}
			matches = append(matches, m...)
		}
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed, nil
}
