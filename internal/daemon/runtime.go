// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the recorder sync engine together and owns its
// long-lived lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/catalog"
	"github.com/ManuGH/hidocu/internal/config"
	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/device/fsdriver"
	"github.com/ManuGH/hidocu/internal/health"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/media"
	"github.com/ManuGH/hidocu/internal/persistence/sqlite"
	"github.com/ManuGH/hidocu/internal/storage"
	"github.com/ManuGH/hidocu/internal/supervisor"
	"github.com/ManuGH/hidocu/internal/syncer"
	"github.com/ManuGH/hidocu/internal/transport"
	"github.com/ManuGH/hidocu/internal/version"
)

// Runtime holds the wired components. It is shared by the daemon and the
// one-shot CLI commands.
type Runtime struct {
	Config     config.AppConfig
	Catalog    *catalog.Store
	Storage    *storage.Store
	Transport  *transport.Serializer
	Supervisor *supervisor.Supervisor
	Syncer     *syncer.Orchestrator

	logger zerolog.Logger
}

// RuntimeOptions overrides pieces of the runtime, mostly for tests.
type RuntimeOptions struct {
	// Driver replaces the mass-storage driver for cfg.Device.MountPath.
	Driver device.Driver
}

// NewRuntime opens the catalog, prepares storage and builds the device stack.
// On error everything opened so far is closed again.
func NewRuntime(ctx context.Context, cfg config.AppConfig, opts RuntimeOptions) (*Runtime, error) {
	logger := log.WithComponent("daemon")
	rt := &Runtime{Config: cfg, logger: logger}

	if err := checkIntegrity(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}
	cat, err := catalog.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	rt.Catalog = cat

	rt.Storage = storage.New(cfg.Storage.Dir, cfg.Storage.TempDir)
	if err := rt.Storage.EnsureStorageDirectoryExists(); err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("prepare storage: %w", err)
	}
	if n, err := rt.Storage.CleanTemp(); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "storage.clean_temp_failed").Msg("could not clean stale temp files")
	} else if n > 0 {
		logger.Info().Int("count", n).Str(log.FieldEvent, "storage.clean_temp").Msg("removed stale temp files")
	}

	drv := opts.Driver
	if drv == nil {
		drv = fsdriver.New(cfg.Device.MountPath, device.ModelUnknown)
	}

	// The transport reports lost sessions to the supervisor, which is built
	// afterwards; no session can exist before the supervisor connects.
	var sup *supervisor.Supervisor
	rt.Transport = transport.New(drv, transport.Options{
		KeepAliveInterval: cfg.Device.KeepAliveInterval,
		OnSessionLost: func(err error) {
			if sup != nil {
				sup.HandleSessionLost(err)
			}
		},
	})
	sup = supervisor.New(rt.Transport, supervisor.Options{
		MaxRetryAttempts: cfg.Device.MaxRetryAttempts,
		ConnectBackoff:   cfg.Device.ConnectBackoff.Policy(),
		VerifyBackoff:    cfg.Device.VerifyBackoff.Policy(),
		BatteryInterval:  cfg.Device.BatteryPollInterval,
	})
	rt.Supervisor = sup

	rt.Syncer = syncer.New(rt.Transport, rt.Catalog, rt.Storage, media.NewProber(cfg.Sync.FFprobeBin), syncer.Options{
		ListBackoff:      cfg.Device.VerifyBackoff.Policy(),
		ProgressInterval: cfg.Sync.ProgressInterval,
		ThroughputWindow: cfg.Sync.ThroughputWindow,
	})
	return rt, nil
}

// checkIntegrity runs the configured sqlite check on an existing catalog.
func checkIntegrity(ctx context.Context, db config.DatabaseConfig, logger zerolog.Logger) error {
	mode := strings.ToLower(db.IntegrityCheck)
	if mode == "" || mode == "off" {
		return nil
	}
	problems, err := sqlite.VerifyIntegrity(ctx, db.Path, mode)
	if err != nil {
		if errors.Is(err, sqlite.ErrDatabaseMissing) {
			return nil
		}
		return fmt.Errorf("integrity check: %w", err)
	}
	if len(problems) > 0 {
		logger.Error().
			Str(log.FieldEvent, "catalog.integrity_failed").
			Str(log.FieldPath, db.Path).
			Strs("problems", problems).
			Msg("catalog integrity check failed")
		return fmt.Errorf("%w: %s", ErrIntegrityCheckFailed, strings.Join(problems, "; "))
	}
	logger.Debug().Str(log.FieldEvent, "catalog.integrity_ok").Str("mode", mode).Msg("catalog integrity check passed")
	return nil
}

// HealthManager builds the readiness checks for the runtime. A recorder that
// is not connected only degrades the daemon.
func (r *Runtime) HealthManager() *health.Manager {
	m := health.NewManager(version.String())
	m.RegisterChecker(health.NewPingChecker("catalog", r.Catalog.Ping))
	m.RegisterChecker(health.NewDirChecker("storage", r.Config.Storage.Dir))
	m.RegisterChecker(health.NewCheckerFunc("device", func(context.Context) health.CheckResult {
		st := r.Supervisor.State()
		res := health.CheckResult{Status: health.StatusHealthy, Message: st.Message()}
		switch st.Phase {
		case supervisor.PhaseConnected:
		case supervisor.PhaseConnectionFailed:
			res.Status = health.StatusDegraded
			if st.Failure != nil {
				res.Error = string(st.Failure.Reason)
			}
		default:
			res.Status = health.StatusDegraded
		}
		return res
	}))
	return m
}

// Close shuts the device stack down before the catalog: supervisor first so
// no new connect starts, then the transport owner goroutine.
func (r *Runtime) Close() error {
	if r.Supervisor != nil {
		r.Supervisor.Close()
	}
	if r.Transport != nil {
		r.Transport.Close()
	}
	if r.Catalog != nil {
		return r.Catalog.Close()
	}
	return nil
}
