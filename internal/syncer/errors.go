// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned when a session for the same key is running.
	ErrSessionActive = errors.New("sync already in progress for this device")
	// ErrCancelled marks a file or session stopped by a cancel request.
	ErrCancelled = errors.New("sync cancelled")
	// ErrNotOnDevice is recorded for requested names missing from the listing.
	ErrNotOnDevice = errors.New("file not on device")
)

// SizeMismatchError reports a download that did not produce the declared size.
type SizeMismatchError struct {
	Filename string
	Expected int64
	Got      int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: expected %d bytes, got %d", e.Expected, e.Got)
}

// ConflictError reports a failure while moving an existing recording aside.
type ConflictError struct {
	Filename string
	Backup   string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resolve conflict to %s: %v", e.Backup, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// FileError ties a failure to the file it happened on. Its message is one
// line of the batch summary.
type FileError struct {
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
