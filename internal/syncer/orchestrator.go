// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package syncer turns device listings and local files into stored recordings
// and catalog rows.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/hidocu/internal/catalog"
	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/media"
	"github.com/ManuGH/hidocu/internal/metrics"
	"github.com/ManuGH/hidocu/internal/resilience"
	"github.com/ManuGH/hidocu/internal/telemetry"
)

// ImportKey is the session key shared by all manual imports.
const ImportKey = "import"

// Transport is the device surface the orchestrator needs.
type Transport interface {
	Session() (device.Session, bool)
	ListFiles(ctx context.Context) ([]device.RemoteFile, error)
	DownloadFile(ctx context.Context, name string, expectedSize int64, destPath string, onProgress device.ProgressFunc) (int64, error)
}

// Catalog is the persistence surface the orchestrator needs.
type Catalog interface {
	FetchByFilename(ctx context.Context, filename string) (*catalog.Record, error)
	Insert(ctx context.Context, r *catalog.Record) error
	UpdateFilePath(ctx context.Context, id int64, relPath, filename string) error
	UpdateSyncStatus(ctx context.Context, id int64, status catalog.SyncStatus) error
	ExistsByFilename(ctx context.Context, filename string) (bool, error)
	ListBySerial(ctx context.Context, deviceSerial string) ([]catalog.Record, error)
}

// Storage is the local file surface the orchestrator needs.
type Storage interface {
	EnsureStorageDirectoryExists() error
	TempPath(name string) string
	Exists(filename string) bool
	MoveToStorage(tempPath, filename string) (string, error)
	CopyToStorage(src, filename string) (string, error)
	RelativePath(abs string) (string, error)
	AbsolutePath(rel string) (string, error)
	RenameFile(abs, newName string) (string, error)
	Remove(path string) error
}

// Prober reads audio metadata. Errors are never fatal to a file.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
}

// Options tunes the orchestrator.
type Options struct {
	// ListBackoff retries the device listing. Defaults to the verification schedule.
	ListBackoff      resilience.Backoff
	Sleeper          resilience.Sleeper
	ProgressInterval time.Duration
	ThroughputWindow time.Duration
	Now              func() time.Time
	Logger           *zerolog.Logger
}

func (o Options) normalize() Options {
	if o.ListBackoff.Attempts <= 0 {
		o.ListBackoff = resilience.VerifyBackoff()
	}
	if o.Sleeper == nil {
		o.Sleeper = resilience.RealSleeper{}
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 250 * time.Millisecond
	}
	if o.ThroughputWindow <= 0 {
		o.ThroughputWindow = 3 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Orchestrator runs sync and import sessions, at most one per key.
type Orchestrator struct {
	transport Transport
	catalog   Catalog
	storage   Storage
	prober    Prober
	opts      Options
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	active  map[string]*session
	last    map[string]Result
	subs    map[int]chan Progress
	nextSub int
}

// New returns an orchestrator. prober may be nil.
func New(t Transport, c Catalog, st Storage, p Prober, opts Options) *Orchestrator {
	opts = opts.normalize()
	logger := log.WithComponent("syncer")
	if opts.Logger != nil {
		logger = opts.Logger.With().Str(log.FieldComponent, "syncer").Logger()
	}
	return &Orchestrator{
		transport: t,
		catalog:   c,
		storage:   st,
		prober:    p,
		opts:      opts,
		logger:    logger,
		tracer:    telemetry.Tracer("hidocu.syncer"),
		active:    make(map[string]*session),
		last:      make(map[string]Result),
		subs:      make(map[int]chan Progress),
	}
}

// Subscribe returns a channel of progress snapshots. Slow readers miss
// intermediate snapshots.
func (o *Orchestrator) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 16)
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.mu.Unlock()
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
}

func (o *Orchestrator) broadcast(p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// Active returns snapshots of running sessions ordered by key.
func (o *Orchestrator) Active() []Progress {
	o.mu.Lock()
	sessions := make([]*session, 0, len(o.active))
	for _, s := range o.active {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()
	out := make([]Progress, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LastResult returns the most recent finished result for key.
func (o *Orchestrator) LastResult(key string) (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.last[key]
	return r, ok
}

// Cancel asks the session for key to stop at its next checkpoint. It reports
// whether a session was running.
func (o *Orchestrator) Cancel(key string) bool {
	o.mu.Lock()
	s, ok := o.active[key]
	o.mu.Unlock()
	if ok {
		s.requestStop()
	}
	return ok
}

// begin registers a session for key or fails with ErrSessionActive.
func (o *Orchestrator) begin(ctx context.Context, key string, kind Kind) (context.Context, *session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[key]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionActive, key)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		cancel:  cancel,
		now:     o.opts.Now,
		limiter: rate.NewLimiter(rate.Every(o.opts.ProgressInterval), 1),
		publish: o.broadcast,
		meter:   newThroughputMeter(o.opts.ThroughputWindow),
		progress: Progress{
			SessionID: uuid.NewString(),
			Key:       key,
			Kind:      kind,
			Phase:     PhasePreparing,
			StartedAt: o.opts.Now(),
		},
	}
	o.active[key] = s
	metrics.IncSyncSessionsActive()
	return runCtx, s, nil
}

// end unregisters the session and publishes the final idle snapshot.
func (o *Orchestrator) end(key string, s *session, res Result) {
	s.cancel()
	o.mu.Lock()
	delete(o.active, key)
	o.last[key] = res
	o.mu.Unlock()
	metrics.DecSyncSessionsActive()
	metrics.RecordSyncSession(string(res.Kind), res.Status())
	s.mu.Lock()
	s.progress.Phase = PhaseIdle
	s.progress.CurrentFile = ""
	s.progress.ETA = nil
	snap := s.progress
	s.mu.Unlock()
	o.broadcast(snap)
}

func (o *Orchestrator) result(ctx context.Context, s *session, failures []error) Result {
	snap := s.snapshot()
	return Result{
		SessionID: snap.SessionID,
		Kind:      snap.Kind,
		Stats:     snap.Stats,
		Cancelled: s.cancelled() || ctx.Err() != nil,
		Duration:  o.opts.Now().Sub(snap.StartedAt),
		Err:       errors.Join(failures...),
	}
}

func stopped(ctx context.Context, s *session) bool {
	return s.cancelled() || ctx.Err() != nil
}

// Sync downloads files from the connected device. With no names the full
// listing is processed and catalog status is reconciled afterwards; otherwise
// only the named files are. Per-file failures are reported in Result.Err; the
// returned error covers setup failures only.
func (o *Orchestrator) Sync(ctx context.Context, names ...string) (Result, error) {
	dev, ok := o.transport.Session()
	if !ok {
		return Result{}, device.ErrNotConnected
	}
	if err := o.storage.EnsureStorageDirectoryExists(); err != nil {
		return Result{}, err
	}
	runCtx, s, err := o.begin(ctx, dev.Serial, KindSync)
	if err != nil {
		return Result{}, err
	}
	logger := o.logger.With().
		Str(log.FieldSessionID, s.progress.SessionID).
		Str(log.FieldDeviceSerial, dev.Serial).
		Logger()
	runCtx = log.ContextWithSessionID(runCtx, s.progress.SessionID)

	var res Result
	defer func() { o.end(dev.Serial, s, res) }()

	logger.Info().Str(log.FieldEvent, "sync.start").Int("requested", len(names)).Msg("sync started")

	listing, err := o.list(runCtx, logger)
	if err != nil {
		res = o.result(runCtx, s, nil)
		if res.Cancelled {
			return res, nil
		}
		return res, fmt.Errorf("list device files: %w", err)
	}

	targets, failures := selectTargets(listing, names)
	var total int64
	for _, f := range targets {
		total += f.Size
	}
	s.setExpected(total, len(targets)+len(failures))
	for range failures {
		metrics.RecordSyncFile(string(KindSync), string(OutcomeFailed))
		s.finishFile(0, OutcomeFailed)
	}
	s.setPhase(PhaseSyncing)
	runCtx, span := o.startRunSpan(runCtx, s, KindSync, len(targets), total)
	defer func() { endRunSpan(span, res) }()

	for i, f := range targets {
		if stopped(runCtx, s) {
			break
		}
		s.beginFile(i, f.Name, f.Size)
		fileCtx, fileSpan := o.startFileSpan(runCtx, f.Name, f.Size)
		outcome, ferr := o.syncFile(fileCtx, s, dev, f, logger)
		endFileSpan(fileSpan, outcome, ferr)
		if errors.Is(ferr, ErrCancelled) {
			s.finishFile(f.Size, "")
			break
		}
		if ferr != nil {
			failures = append(failures, &FileError{Filename: f.Name, Err: ferr})
			logger.Warn().Err(ferr).Str(log.FieldEvent, "sync.file_failed").Str(log.FieldFilename, f.Name).Msg("file failed")
		}
		metrics.RecordSyncFile(string(KindSync), string(outcome))
		s.finishFile(f.Size, outcome)
	}

	if len(names) == 0 && !stopped(runCtx, s) {
		if _, err := o.Reconcile(runCtx, dev.Serial, listing); err != nil {
			logger.Warn().Err(err).Msg("reconcile catalog status")
		}
	}

	res = o.result(runCtx, s, failures)
	ev := logger.Info()
	if res.Err != nil {
		ev = logger.Warn()
	}
	ev.Str(log.FieldEvent, "sync.finish").
		Int("downloaded", res.Stats.Downloaded).
		Int("skipped", res.Stats.Skipped).
		Int("failed", res.Stats.Failed).
		Bool("cancelled", res.Cancelled).
		Dur("duration", res.Duration).
		Msg(firstLine(res.Message()))
	return res, nil
}

func (o *Orchestrator) list(ctx context.Context, logger zerolog.Logger) ([]device.RemoteFile, error) {
	var listing []device.RemoteFile
	err := resilience.Retry(ctx, o.opts.ListBackoff, o.opts.Sleeper, func(ctx context.Context, _ int) error {
		files, err := o.transport.ListFiles(ctx)
		if err != nil {
			if device.IsNotConnected(err) {
				return resilience.Permanent(err)
			}
			return err
		}
		listing = files
		return nil
	}, func(attempt int, err error) {
		logger.Debug().Err(err).Int(log.FieldAttempt, attempt).Msg("listing failed, retrying")
	})
	return listing, err
}

// selectTargets keeps listing order. Requested names absent from the listing
// become failures.
func selectTargets(listing []device.RemoteFile, names []string) ([]device.RemoteFile, []error) {
	if len(names) == 0 {
		return listing, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []device.RemoteFile
	for _, f := range listing {
		if want[f.Name] {
			out = append(out, f)
			delete(want, f.Name)
		}
	}
	var failures []error
	for _, n := range names {
		if want[n] {
			failures = append(failures, &FileError{Filename: n, Err: ErrNotOnDevice})
			delete(want, n)
		}
	}
	return out, failures
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
