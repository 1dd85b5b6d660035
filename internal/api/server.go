// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the control surface of the daemon over HTTP: device
// state, manual retry and disconnect, sync and import sessions, and the
// recordings catalog.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/api/middleware"
	"github.com/ManuGH/hidocu/internal/audit"
	"github.com/ManuGH/hidocu/internal/catalog"
	"github.com/ManuGH/hidocu/internal/health"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/supervisor"
	"github.com/ManuGH/hidocu/internal/syncer"
	"github.com/ManuGH/hidocu/internal/version"
)

// DeviceController is the slice of the connection supervisor the API drives.
type DeviceController interface {
	State() supervisor.State
	Retry(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// SyncController is the slice of the sync orchestrator the API drives.
type SyncController interface {
	Active() []syncer.Progress
	LastResult(key string) (syncer.Result, bool)
	Cancel(key string) bool
	Sync(ctx context.Context, names ...string) (syncer.Result, error)
	Import(ctx context.Context, paths []string) (syncer.Result, error)
}

// RecordingLister reads the catalog.
type RecordingLister interface {
	List(ctx context.Context, limit, offset int) ([]catalog.Record, error)
	Count(ctx context.Context) (int, error)
}

// Config holds the API server settings.
type Config struct {
	Listen string
	// RateLimit is the per-client budget of mutating requests per minute.
	RateLimit       int
	TracingService  string
	ShutdownTimeout time.Duration
	// Health serves /healthz and /readyz. A manager without checkers is used
	// when nil.
	Health *health.Manager
}

// Server is the control API.
type Server struct {
	cfg     Config
	device  DeviceController
	syncs   SyncController
	records RecordingLister
	logger  zerolog.Logger
	audit   *audit.Logger

	// background runs outlive the request that started them.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	mu sync.Mutex // guards bgWG.Add against shutdown
}

// New creates a Server.
func New(cfg Config, dev DeviceController, syncs SyncController, records RecordingLister) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Health == nil {
		cfg.Health = health.NewManager(version.String())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		device:   dev,
		syncs:    syncs,
		records:  records,
		logger:   log.WithComponent("api"),
		audit:    audit.NewLogger(),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.cfg.Health.ServeHealth)
	r.Get("/readyz", s.cfg.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		mutating := r.With(middleware.ControlRateLimit(s.cfg.RateLimit), middleware.RequireJSON)

		r.Get("/device", s.handleDeviceState)
		mutating.Post("/device/retry", s.handleDeviceRetry)
		mutating.Post("/device/disconnect", s.handleDeviceDisconnect)

		r.Get("/sync", s.handleSyncStatus)
		mutating.Post("/sync", s.handleSyncStart)
		mutating.Post("/sync/cancel", s.handleSyncCancel)
		mutating.Post("/import", s.handleImport)

		r.Get("/recordings", s.handleRecordings)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully and waits for
// background runs started through the API.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str(log.FieldEvent, "api.listening").Str("addr", ln.Addr().String()).Msg("control API listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.stopBackground()
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.stopBackground()
	<-errCh
	if err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func (s *Server) stopBackground() {
	s.mu.Lock()
	s.bgCancel()
	s.mu.Unlock()
	s.bgWG.Wait()
}

// goBackground runs fn detached from the request. It refuses once the server
// is stopping.
func (s *Server) goBackground(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bgCtx.Err() != nil {
		return false
	}
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		fn(s.bgCtx)
	}()
	return true
}
