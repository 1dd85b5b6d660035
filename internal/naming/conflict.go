// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package naming

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// probeLimit bounds numbered probing before falling back to a random suffix.
const probeLimit = 10_000

// ExistsFunc reports whether a candidate name is taken.
type ExistsFunc func(name string) bool

// ResolveConflict returns base+suffix when free, otherwise the first free
// "base N"+suffix for N = 2, 3, ...
func ResolveConflict(base, suffix string, exists ExistsFunc) string {
	candidate := base + suffix
	if !exists(candidate) {
		return candidate
	}
	for n := 2; n <= probeLimit; n++ {
		candidate = fmt.Sprintf("%s %d%s", base, n, suffix)
		if !exists(candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s %s%s", base, uuid.NewString()[:8], suffix)
}

// SplitExt splits "a.b.hda" into "a.b" and ".hda".
func SplitExt(filename string) (base, ext string) {
	ext = filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext), ext
}

// BackupName returns <base>_backup_<n>.<ext>.
func BackupName(filename string, n int) string {
	base, ext := SplitExt(filename)
	return fmt.Sprintf("%s_backup_%d%s", base, n, ext)
}

// ResolveBackup returns the first BackupName(filename, n), n >= 1, that is free.
func ResolveBackup(filename string, exists ExistsFunc) string {
	for n := 1; n <= probeLimit; n++ {
		candidate := BackupName(filename, n)
		if !exists(candidate) {
			return candidate
		}
	}
	base, ext := SplitExt(filename)
	return fmt.Sprintf("%s_backup_%s%s", base, uuid.NewString()[:8], ext)
}
