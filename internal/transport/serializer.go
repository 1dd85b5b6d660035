// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transport serializes every device driver call through a single
// owner goroutine. The recorder cannot interleave commands, so a battery
// query issued during a download waits until the download returns.
package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/metrics"
	"github.com/ManuGH/hidocu/internal/telemetry"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("transport closed")

const (
	opConnect    = "connect"
	opDisconnect = "disconnect"
	opList       = "list"
	opDownload   = "download"
	opDelete     = "delete"
	opBattery    = "battery"
	opStorage    = "storage"
	opKeepAlive  = "keepalive"
)

// Options configures a Serializer.
type Options struct {
	// KeepAliveInterval is how often the owner pings the device while a
	// session is open. Zero disables keep-alive.
	KeepAliveInterval time.Duration
	// OnSessionLost runs on the owner goroutine when the session drops
	// without an explicit Disconnect. It must not call back into the
	// Serializer synchronously.
	OnSessionLost func(err error)
	Logger        *zerolog.Logger
}

type request struct {
	ctx  context.Context
	op   string
	file string
	fn   func(ctx context.Context) error
	done chan error
}

// Serializer owns the device driver. All methods are safe for concurrent use.
type Serializer struct {
	driver    device.Driver
	opts      Options
	logger    zerolog.Logger
	tracer    trace.Tracer
	reqs      chan request
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	session *device.Session
}

// New starts the owner goroutine for driver.
func New(driver device.Driver, opts Options) *Serializer {
	logger := log.WithComponent("transport")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	s := &Serializer{
		driver:  driver,
		opts:    opts,
		logger:  logger,
		tracer:  telemetry.Tracer("hidocu.transport"),
		reqs:    make(chan request),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serializer) run() {
	// The driver's keep-alive timer is tied to the thread that opened the session.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.stopped)

	var ticker *time.Ticker
	var tick <-chan time.Time
	syncTicker := func() {
		want := s.currentSession() != nil && s.opts.KeepAliveInterval > 0
		switch {
		case want && ticker == nil:
			ticker = time.NewTicker(s.opts.KeepAliveInterval)
			tick = ticker.C
		case !want && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-s.quit:
			if s.currentSession() != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.driver.Close(ctx); err != nil {
					s.logger.Warn().Err(err).Str(log.FieldEvent, "transport.close_failed").Msg("driver close on shutdown failed")
				}
				cancel()
				s.setSession(nil)
			}
			return
		case req := <-s.reqs:
			req.done <- s.exec(req)
			syncTicker()
		case <-tick:
			s.keepAlive()
			syncTicker()
		}
	}
}

func (s *Serializer) exec(req request) (err error) {
	ctx, span := s.tracer.Start(req.ctx, "hidocu.transport."+req.op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(telemetry.DeviceAttributes(req.op, req.file)...)
	start := time.Now()
	defer func() {
		metrics.ObserveTransportOp(req.op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	err = req.fn(ctx)
	if err != nil && req.op != opConnect && req.op != opDisconnect && device.IsNotConnected(err) {
		s.teardown(err)
	}
	return err
}

// teardown drops a session the driver reported as gone. Owner goroutine only.
func (s *Serializer) teardown(cause error) {
	if s.currentSession() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.driver.Close(ctx)
	s.setSession(nil)
	s.logger.Warn().Err(cause).Str(log.FieldEvent, "transport.session_lost").Msg("device session lost")
	if s.opts.OnSessionLost != nil {
		s.opts.OnSessionLost(cause)
	}
}

func (s *Serializer) keepAlive() {
	if s.currentSession() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.KeepAliveInterval)
	defer cancel()
	err := s.exec(request{ctx: ctx, op: opKeepAlive, fn: s.driver.KeepAlive})
	if err != nil && !device.IsNotConnected(err) {
		s.logger.Debug().Err(err).Str(log.FieldEvent, "transport.keepalive_failed").Msg("keep-alive failed")
	}
}

func (s *Serializer) do(ctx context.Context, op, file string, fn func(ctx context.Context) error) error {
	req := request{ctx: ctx, op: op, file: file, fn: fn, done: make(chan error, 1)}
	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	}
	// Once accepted the call runs to completion; the driver sees ctx and may abort early.
	return <-req.done
}

func (s *Serializer) currentSession() *device.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Serializer) setSession(sess *device.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

// requireSession must run on the owner goroutine.
func (s *Serializer) requireSession() error {
	if s.currentSession() == nil {
		return device.ErrNotConnected
	}
	return nil
}

// Session returns a copy of the live session, if any.
func (s *Serializer) Session() (device.Session, bool) {
	sess := s.currentSession()
	if sess == nil {
		return device.Session{}, false
	}
	return *sess, true
}

// Connect opens the device. When a session is already open it is returned unchanged.
func (s *Serializer) Connect(ctx context.Context) (device.Session, error) {
	var out device.Session
	err := s.do(ctx, opConnect, "", func(ctx context.Context) error {
		if cur := s.currentSession(); cur != nil {
			out = *cur
			return nil
		}
		sess, err := s.driver.Open(ctx)
		if err != nil {
			if device.IsNotConnected(err) {
				return err
			}
			return fmt.Errorf("%w: %w", device.ErrNotConnected, err)
		}
		s.setSession(&sess)
		out = sess
		trace.SpanFromContext(ctx).SetAttributes(telemetry.SessionAttributes(sess.Serial, sess.Model.String())...)
		s.logger.Info().
			Str(log.FieldEvent, "transport.connected").
			Str(log.FieldDeviceSerial, sess.Serial).
			Str(log.FieldDeviceModel, sess.Model.String()).
			Str("firmware", sess.FirmwareVersion).
			Msg("device session opened")
		return nil
	})
	return out, err
}

// Disconnect closes the session. It is a no-op without one.
func (s *Serializer) Disconnect(ctx context.Context) error {
	return s.do(ctx, opDisconnect, "", func(ctx context.Context) error {
		if s.currentSession() == nil {
			return nil
		}
		err := s.driver.Close(ctx)
		s.setSession(nil)
		s.logger.Info().Str(log.FieldEvent, "transport.disconnected").Msg("device session closed")
		if err != nil {
			return &device.TransportError{Op: opDisconnect, Err: err}
		}
		return nil
	})
}

// ListFiles returns the device directory listing.
func (s *Serializer) ListFiles(ctx context.Context) ([]device.RemoteFile, error) {
	var out []device.RemoteFile
	err := s.do(ctx, opList, "", func(ctx context.Context) error {
		if err := s.requireSession(); err != nil {
			return err
		}
		files, err := s.driver.List(ctx)
		out = files
		return err
	})
	return out, err
}

// DownloadFile streams name into destPath and returns the bytes written.
// A partial destPath is left behind on failure; the caller removes it.
func (s *Serializer) DownloadFile(ctx context.Context, name string, expectedSize int64, destPath string, onProgress device.ProgressFunc) (int64, error) {
	var written int64
	err := s.do(ctx, opDownload, name, func(ctx context.Context) error {
		if err := s.requireSession(); err != nil {
			return err
		}
		f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("open download target: %w", err)
		}
		n, derr := s.driver.Download(ctx, name, expectedSize, f, onProgress)
		written = n
		if derr == nil {
			derr = f.Sync()
		}
		if cerr := f.Close(); derr == nil && cerr != nil {
			derr = cerr
		}
		return derr
	})
	return written, err
}

// DeleteFile removes name from the device.
func (s *Serializer) DeleteFile(ctx context.Context, name string) error {
	return s.do(ctx, opDelete, name, func(ctx context.Context) error {
		if err := s.requireSession(); err != nil {
			return err
		}
		return s.driver.Delete(ctx, name)
	})
}

// BatteryStatus queries battery telemetry.
func (s *Serializer) BatteryStatus(ctx context.Context) (device.BatteryStatus, error) {
	var out device.BatteryStatus
	err := s.do(ctx, opBattery, "", func(ctx context.Context) error {
		if err := s.requireSession(); err != nil {
			return err
		}
		b, err := s.driver.Battery(ctx)
		out = b
		return err
	})
	return out, err
}

// StorageInfo queries device capacity.
func (s *Serializer) StorageInfo(ctx context.Context) (device.StorageInfo, error) {
	var out device.StorageInfo
	err := s.do(ctx, opStorage, "", func(ctx context.Context) error {
		if err := s.requireSession(); err != nil {
			return err
		}
		info, err := s.driver.Storage(ctx)
		out = info
		return err
	})
	return out, err
}

// Close stops the owner goroutine, closing any open session first.
func (s *Serializer) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.stopped
}
