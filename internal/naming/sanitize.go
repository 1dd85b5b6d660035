// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package naming holds the pure file naming rules: sanitization and
// collision-free name generation.
package naming

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxNameBytes is the longest file name most filesystems accept.
	MaxNameBytes = 255
	// DefaultName replaces names that sanitize to nothing.
	DefaultName = "Untitled"
	substitute  = "_"
	forbidden   = `/\:*?"<>|`
)

// Sanitize turns name into a single safe path component. The result never
// contains separators, traversal sequences or control characters, is at most
// MaxNameBytes long and is never empty. Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(name string) string {
	s := strings.ToValidUTF8(name, substitute)
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "..", substitute)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case strings.ContainsRune(forbidden, r) || unicode.IsControl(r):
			b.WriteString(substitute)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	s = trimEdges(b.String())
	s = truncateBytes(s, MaxNameBytes)
	s = trimEdges(s)
	if s == "" {
		return DefaultName
	}
	return s
}

func trimEdges(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r == '.' || unicode.IsSpace(r)
	})
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
