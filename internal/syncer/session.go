// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Phase is the lifecycle step of a sync or import session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreparing Phase = "preparing"
	PhaseSyncing   Phase = "syncing"
	PhaseImporting Phase = "importing"
	PhaseStopping  Phase = "stopping"
)

// Kind distinguishes device syncs from manual imports.
type Kind string

const (
	KindSync   Kind = "sync"
	KindImport Kind = "import"
)

// Outcome is the per-file classification.
type Outcome string

const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Stats are the terminal counters of a session.
type Stats struct {
	Total      int `json:"total"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (s *Stats) add(o Outcome) {
	switch o {
	case OutcomeDownloaded:
		s.Downloaded++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

// Progress is a snapshot of a running session.
type Progress struct {
	SessionID        string         `json:"session_id"`
	Key              string         `json:"key"`
	Kind             Kind           `json:"kind"`
	Phase            Phase          `json:"phase"`
	CurrentFile      string         `json:"current_file,omitempty"`
	FileIndex        int            `json:"file_index"`
	BytesExpected    int64          `json:"bytes_expected"`
	BytesTransferred int64          `json:"bytes_transferred"`
	Throughput       float64        `json:"throughput_bps"`
	ETA              *time.Duration `json:"eta,omitempty"`
	Stats            Stats          `json:"stats"`
	StartedAt        time.Time      `json:"started_at"`
}

// Result is returned when a session ends.
type Result struct {
	SessionID string        `json:"session_id"`
	Kind      Kind          `json:"kind"`
	Stats     Stats         `json:"stats"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
	// Err joins one FileError per failed file; nil when none failed.
	Err error `json:"-"`
}

// Message is the human readable summary of the session.
func (r Result) Message() string {
	verb := "Sync"
	if r.Kind == KindImport {
		verb = "Import"
	}
	switch {
	case r.Cancelled:
		return fmt.Sprintf("%s cancelled after %d of %d files", verb, r.Stats.Downloaded+r.Stats.Skipped+r.Stats.Failed, r.Stats.Total)
	case r.Stats.Failed > 0:
		return fmt.Sprintf("%s finished with %d failed of %d files:\n%v", verb, r.Stats.Failed, r.Stats.Total, r.Err)
	default:
		return fmt.Sprintf("%s complete: %d downloaded, %d skipped", verb, r.Stats.Downloaded, r.Stats.Skipped)
	}
}

// Status is the metric label for the session result.
func (r Result) Status() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Stats.Failed > 0 && r.Stats.Failed == r.Stats.Total:
		return "error"
	case r.Stats.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// session is the per-invocation bookkeeping. The pipeline goroutine and the
// transport's progress callback both touch it, so fields live under mu.
type session struct {
	cancel   context.CancelFunc
	stopping atomic.Bool
	now      func() time.Time
	limiter  *rate.Limiter
	publish  func(Progress)

	mu        sync.Mutex
	progress  Progress
	completed int64 // bytes of files already finished
	fileSize  int64
	meter     *throughputMeter
}

func (s *session) cancelled() bool { return s.stopping.Load() }

func (s *session) requestStop() {
	if s.stopping.CompareAndSwap(false, true) {
		s.mutate(true, func(p *Progress) { p.Phase = PhaseStopping })
		s.cancel()
	}
}

// mutate applies fn and publishes. Forced publishes bypass the rate limit and
// are used on phase and file boundaries.
func (s *session) mutate(force bool, fn func(p *Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	snap := s.progress
	s.mu.Unlock()
	if force || s.limiter.Allow() {
		s.publish(snap)
	}
}

func (s *session) snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *session) setPhase(ph Phase) {
	s.mutate(true, func(p *Progress) {
		if p.Phase != PhaseStopping {
			p.Phase = ph
		}
	})
}

func (s *session) setExpected(total int64, files int) {
	s.mutate(true, func(p *Progress) {
		p.BytesExpected = total
		p.Stats.Total = files
	})
}

func (s *session) beginFile(index int, name string, size int64) {
	s.mu.Lock()
	s.fileSize = size
	s.mu.Unlock()
	s.mutate(true, func(p *Progress) {
		p.FileIndex = index
		p.CurrentFile = name
	})
}

// fileProgress records done bytes of the current file. Both the per-file and
// the global counters are capped so a driver over-reporting cannot push the
// total past what was declared.
func (s *session) fileProgress(done int64) {
	s.mu.Lock()
	if done > s.fileSize {
		done = s.fileSize
	}
	if done < 0 {
		done = 0
	}
	s.setTransferredLocked(s.completed + done)
	snap := s.progress
	s.mu.Unlock()
	if s.limiter.Allow() {
		s.publish(snap)
	}
}

// finishFile advances the completed counter by the declared size, whatever
// the outcome was.
func (s *session) finishFile(size int64, o Outcome) {
	s.mu.Lock()
	s.completed += size
	s.setTransferredLocked(s.completed)
	s.progress.Stats.add(o)
	s.progress.CurrentFile = ""
	snap := s.progress
	s.mu.Unlock()
	s.publish(snap)
}

func (s *session) setTransferredLocked(total int64) {
	if total > s.progress.BytesExpected {
		total = s.progress.BytesExpected
	}
	s.progress.BytesTransferred = total
	s.meter.Add(s.now(), total)
	s.progress.Throughput = s.meter.Rate()
	s.progress.ETA = eta(s.progress.BytesExpected-total, s.progress.Throughput)
}
