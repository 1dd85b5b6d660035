// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor drives the device connection lifecycle: bounded connect
// retries, post-connect verification, hotplug attach/detach and battery polling.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/metrics"
	"github.com/ManuGH/hidocu/internal/resilience"
)

// ErrNotAttached is returned by Retry when no device is physically attached.
var ErrNotAttached = errors.New("device not attached")

// Transport is the subset of the transport serializer the supervisor drives.
type Transport interface {
	Connect(ctx context.Context) (device.Session, error)
	Disconnect(ctx context.Context) error
	StorageInfo(ctx context.Context) (device.StorageInfo, error)
	BatteryStatus(ctx context.Context) (device.BatteryStatus, error)
}

// Options configures a Supervisor.
type Options struct {
	MaxRetryAttempts int
	ConnectBackoff   resilience.Backoff
	VerifyBackoff    resilience.Backoff
	BatteryInterval  time.Duration
	Sleeper          resilience.Sleeper
	Logger           *zerolog.Logger
}

func (o Options) normalize() Options {
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = 3
	}
	if o.ConnectBackoff.Initial <= 0 {
		o.ConnectBackoff = resilience.ConnectBackoff()
	}
	o.ConnectBackoff.Attempts = o.MaxRetryAttempts
	if o.VerifyBackoff.Attempts <= 0 {
		o.VerifyBackoff = resilience.VerifyBackoff()
	}
	if o.BatteryInterval <= 0 {
		o.BatteryInterval = 30 * time.Second
	}
	if o.Sleeper == nil {
		o.Sleeper = resilience.RealSleeper{}
	}
	return o
}

const teardownTimeout = 5 * time.Second

// Supervisor owns the connection state. It is safe for concurrent use.
type Supervisor struct {
	transport Transport
	opts      Options
	logger    zerolog.Logger
	breaker   *resilience.CircuitBreaker

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	// seqMu serializes starting and cancelling retry sequences.
	seqMu       sync.Mutex
	mu          sync.Mutex
	state       State
	retryCancel context.CancelFunc
	retryDone   chan struct{}
	pollCancel  context.CancelFunc
	pollDone    chan struct{}
	subs        map[int]chan State
	nextSub     int
	// closed is set by Close; background goroutines are only added to wg
	// while it is false.
	closed bool
}

// New creates a supervisor in PhaseDisconnected.
func New(t Transport, opts Options) *Supervisor {
	opts = opts.normalize()
	logger := log.WithComponent("supervisor")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		transport:  t,
		opts:       opts,
		logger:     logger,
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      State{Phase: PhaseDisconnected},
		subs:       make(map[int]chan State),
		breaker: resilience.NewCircuitBreaker("battery", 3, 2*time.Minute,
			resilience.WithIgnoredErrors(func(err error) bool {
				return errors.Is(err, context.Canceled) || device.IsNotConnected(err)
			})),
	}
	metrics.SetConnectionState(string(PhaseDisconnected))
	return s
}

// State returns a snapshot of the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Battery returns the last battery reading, if any.
func (s *Supervisor) Battery() (device.BatteryStatus, bool) {
	st := s.State()
	if st.Battery == nil {
		return device.BatteryStatus{}, false
	}
	return *st.Battery, true
}

// Storage returns the storage info captured at verification.
func (s *Supervisor) Storage() (device.StorageInfo, bool) {
	st := s.State()
	if st.Storage == nil {
		return device.StorageInfo{}, false
	}
	return *st.Storage, true
}

// Subscribe returns a channel of state snapshots. Slow readers miss
// intermediate states but always see the latest one.
func (s *Supervisor) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state.clone()
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// update mutates the state under lock and fans out the result.
func (s *Supervisor) update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.state.Phase
	fn(&s.state)
	snap := s.state.clone()
	if old != snap.Phase {
		metrics.SetConnectionState(string(snap.Phase))
		s.logger.Info().
			Str(log.FieldEvent, "device.state_changed").
			Str(log.FieldOldState, string(old)).
			Str(log.FieldNewState, string(snap.Phase)).
			Msg(snap.Message())
	}
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// ConnectWithRetry connects with bounded retries and verification. A retry
// sequence already in flight is cancelled and awaited first.
func (s *Supervisor) ConnectWithRetry(ctx context.Context) error {
	s.seqMu.Lock()
	s.cancelRetry()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.retryCancel = cancel
	s.retryDone = done
	s.mu.Unlock()
	s.seqMu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.retryDone == done {
			s.retryCancel = nil
			s.retryDone = nil
		}
		s.mu.Unlock()
		close(done)
	}()
	return s.connect(runCtx)
}

// cancelRetry stops the running retry sequence and waits for it. Caller holds seqMu.
func (s *Supervisor) cancelRetry() {
	s.mu.Lock()
	cancel, done := s.retryCancel, s.retryDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Supervisor) connect(ctx context.Context) error {
	if st := s.State(); st.Phase == PhaseConnected && st.Session != nil {
		return nil
	}
	maxAttempts := s.opts.MaxRetryAttempts
	logger := log.WithContext(ctx, s.logger)

	err := resilience.Retry(ctx, s.opts.ConnectBackoff, s.opts.Sleeper, func(ctx context.Context, attempt int) error {
		s.update(func(st *State) {
			st.Phase = PhaseConnecting
			st.Attempt = attempt
			st.MaxAttempts = maxAttempts
			st.Failure = nil
		})
		logger.Info().
			Str(log.FieldEvent, "device.connect_attempt").
			Int(log.FieldAttempt, attempt).
			Int(log.FieldMax, maxAttempts).
			Msg("connecting to device")

		sess, err := s.transport.Connect(ctx)
		if err != nil {
			metrics.RecordConnectAttempt("failure")
			return err
		}
		info, err := s.verify(ctx)
		if err != nil {
			metrics.RecordConnectAttempt("failure")
			// Drop the half-open session so the next attempt reopens it.
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
			_ = s.transport.Disconnect(dctx)
			cancel()
			return err
		}
		metrics.RecordConnectAttempt("success")
		metrics.SetStorageFree(info.Free)
		s.update(func(st *State) {
			st.Phase = PhaseConnected
			st.Attempt, st.MaxAttempts = 0, 0
			st.Session = &sess
			st.Storage = &info
			if st.Model == "" || st.Model == device.ModelUnknown {
				st.Model = sess.Model
			}
		})
		return nil
	}, func(attempt int, err error) {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "device.connect_retry").
			Int(log.FieldAttempt, attempt).
			Dur("backoff", s.opts.ConnectBackoff.Delay(attempt)).
			Msg("connection attempt failed")
	})

	switch {
	case err == nil:
		s.startPolling()
		return nil
	case ctx.Err() != nil:
		metrics.RecordConnectAttempt("cancelled")
		s.update(func(st *State) {
			if st.Phase == PhaseConnecting {
				st.Phase = PhaseDisconnected
				st.Attempt, st.MaxAttempts = 0, 0
			}
		})
		return ctx.Err()
	}

	failure := Classify(err)
	metrics.RecordConnectionFailure(string(failure.Reason))
	s.update(func(st *State) {
		st.Phase = PhaseConnectionFailed
		st.Attempt, st.MaxAttempts = 0, 0
		st.Failure = &failure
		st.Session = nil
	})
	logger.Error().Err(err).
		Str(log.FieldEvent, "device.connect_failed").
		Str(log.FieldReason, string(failure.Reason)).
		Msg(failure.Message)
	var exhausted *resilience.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}
	return &ConnectError{Attempts: maxAttempts, Failure: failure, Err: err}
}

// verify fetches storage info with its own short backoff to ride out USB
// timing races right after the session opens.
func (s *Supervisor) verify(ctx context.Context) (device.StorageInfo, error) {
	var info device.StorageInfo
	err := resilience.Retry(ctx, s.opts.VerifyBackoff, s.opts.Sleeper, func(ctx context.Context, _ int) error {
		v, err := s.transport.StorageInfo(ctx)
		if err != nil {
			if device.IsNotConnected(err) {
				return resilience.Permanent(err)
			}
			return err
		}
		info = v
		return nil
	}, func(attempt int, err error) {
		s.logger.Debug().Err(err).
			Str(log.FieldEvent, "device.verify_retry").
			Int(log.FieldAttempt, attempt).
			Msg("post-connect verification failed")
	})
	return info, err
}

// HandleAttach records a physical attach and starts connecting unless a
// connection is already up or in progress.
func (s *Supervisor) HandleAttach(deviceID string, productID uint16) {
	model := device.ModelForProduct(productID)
	metrics.RecordHotplugEvent("attach")
	var start bool
	s.update(func(st *State) {
		st.Attached = true
		st.DeviceID = deviceID
		st.Model = model
		start = st.Phase != PhaseConnected && st.Phase != PhaseConnecting
	})
	s.logger.Info().
		Str(log.FieldEvent, "device.attached").
		Str(log.FieldDeviceID, deviceID).
		Str(log.FieldDeviceModel, model.String()).
		Msg("recorder attached")
	if !start {
		return
	}
	s.goConnect()
}

// goTracked runs fn on a goroutine Close waits for. It reports false once
// Close has started.
func (s *Supervisor) goTracked(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Supervisor) goConnect() {
	s.goTracked(func() {
		if err := s.ConnectWithRetry(s.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug().Err(err).Msg("background connect ended with error")
		}
	})
}

// HandleDetach forces PhaseDisconnected and clears cached identity. Events for
// a different device id than the attached one are ignored.
func (s *Supervisor) HandleDetach(deviceID string) {
	st := s.State()
	if deviceID != "" && st.DeviceID != "" && deviceID != st.DeviceID {
		return
	}
	metrics.RecordHotplugEvent("detach")
	s.logger.Info().
		Str(log.FieldEvent, "device.detached").
		Str(log.FieldDeviceID, deviceID).
		Msg("recorder detached")
	s.teardown(true)
}

// Disconnect tears the session down on request. The device stays attached.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	return s.teardownCtx(ctx, false)
}

// HandleSessionLost reacts to the transport dropping the session on its own.
// It does not block and may be called from the transport owner goroutine.
func (s *Supervisor) HandleSessionLost(cause error) {
	s.goTracked(func() {
		s.stopPolling()
		s.update(func(st *State) {
			if st.Phase == PhaseConnected {
				st.Phase = PhaseDisconnected
				st.Session = nil
				st.Battery = nil
			}
		})
		s.logger.Warn().Err(cause).Str(log.FieldEvent, "device.session_lost").Msg("device session lost")
	})
}

func (s *Supervisor) teardown(detached bool) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	_ = s.teardownCtx(ctx, detached)
}

func (s *Supervisor) teardownCtx(ctx context.Context, detached bool) error {
	s.seqMu.Lock()
	s.cancelRetry()
	s.seqMu.Unlock()
	s.stopPolling()

	err := s.transport.Disconnect(ctx)
	s.update(func(st *State) {
		st.Phase = PhaseDisconnected
		st.Attempt, st.MaxAttempts = 0, 0
		st.Failure = nil
		st.Session = nil
		st.Battery = nil
		st.Storage = nil
		if detached {
			st.Attached = false
			st.DeviceID = ""
			st.Model = ""
		}
	})
	return err
}

// Retry is the user-triggered re-attempt. It only runs while the device is
// physically attached.
func (s *Supervisor) Retry(ctx context.Context) error {
	if !s.State().Attached {
		s.logger.Warn().Str(log.FieldEvent, "device.retry_ignored").Msg("manual retry ignored: no device attached")
		return ErrNotAttached
	}
	return s.ConnectWithRetry(ctx)
}

// Close cancels background work and waits for it.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.baseCancel()
	s.seqMu.Lock()
	s.cancelRetry()
	s.seqMu.Unlock()
	s.stopPolling()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
