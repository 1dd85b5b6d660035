// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/hidocu/internal/api"
	"github.com/ManuGH/hidocu/internal/audit"
	"github.com/ManuGH/hidocu/internal/config"
	"github.com/ManuGH/hidocu/internal/hotplug"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/supervisor"
	"github.com/ManuGH/hidocu/internal/syncer"
)

// HotplugSource streams physical attach and detach events until ctx ends.
type HotplugSource interface {
	Run(ctx context.Context, onEvent func(hotplug.Event)) error
}

// App owns the long-lived runtime lifecycle: config reloads, hotplug
// observation, auto-sync and the control API.
type App struct {
	logger       zerolog.Logger
	rt           *Runtime
	cfgHolder    *config.ConfigHolder
	apiServer    *api.Server
	audit        *audit.Logger
	hotplug      HotplugSource
	enumerate    func() ([]hotplug.Event, error)
	reloadSignal os.Signal

	autoSync atomic.Bool
	syncs    singleflight.Group
	wg       sync.WaitGroup
}

// NewApp builds the app from rt.Config. cfgHolder may be nil when the config
// is not reloadable.
func NewApp(rt *Runtime, cfgHolder *config.ConfigHolder) (*App, error) {
	if rt == nil {
		return nil, ErrMissingRuntime
	}
	cfg := rt.Config
	a := &App{
		logger:       log.WithComponent("daemon"),
		rt:           rt,
		cfgHolder:    cfgHolder,
		audit:        audit.NewLogger(),
		reloadSignal: syscall.SIGHUP,
	}
	a.autoSync.Store(cfg.Sync.AutoSync)

	if cfg.Hotplug.Enabled {
		vendor, err := cfg.Device.Vendor()
		if err != nil {
			return nil, err
		}
		a.hotplug = &hotplug.Monitor{Binary: cfg.Hotplug.UdevadmBin, Vendor: vendor}
		root := cfg.Hotplug.SysfsRoot
		a.enumerate = func() ([]hotplug.Event, error) { return hotplug.Enumerate(root, vendor) }
	}
	if cfg.API.Enabled {
		a.apiServer = api.New(api.Config{
			Listen:         cfg.API.Listen,
			RateLimit:      cfg.API.RateLimit,
			TracingService: cfg.Log.Service,
			Health:         rt.HealthManager(),
		}, rt.Supervisor, rt.Syncer, rt.Catalog)
	}
	return a, nil
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs. The runtime is closed before Run returns.
func (a *App) Run(ctx context.Context) error {
	if a.rt == nil {
		return ErrMissingRuntime
	}
	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					err := a.cfgHolder.Reload(ctx)
					if err != nil {
						a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
					}
					a.audit.ConfigReload(a.reloadSignal.String(), a.cfgHolder.Path(), err)
				}
			}
		})
	}

	// Subscribe before any attach so the first connected state is not missed.
	states, unsubscribe := a.rt.Supervisor.Subscribe()
	g.Go(func() error {
		defer unsubscribe()
		a.watchStates(ctx, states)
		return nil
	})

	g.Go(func() error {
		a.runHotplug(ctx)
		return nil
	})

	if a.apiServer != nil {
		g.Go(func() error { return a.apiServer.Run(ctx) })
	}

	err := g.Wait()
	a.wg.Wait()
	if a.cfgHolder != nil {
		a.cfgHolder.Stop()
	}
	if closeErr := a.rt.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	return err
}

// apply takes over the hot-reloadable settings of a reloaded config.
func (a *App) apply(cfg config.AppConfig) {
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		a.logger.Warn().Err(err).Str(log.FieldEvent, "config.apply_failed").Msg("invalid log level in reloaded config")
	}
	a.autoSync.Store(cfg.Sync.AutoSync)
}

// runHotplug reports already attached recorders, then follows udev. Without
// hotplug the configured mount is treated as permanently attached.
func (a *App) runHotplug(ctx context.Context) {
	sup := a.rt.Supervisor
	if a.hotplug == nil {
		sup.HandleAttach(a.rt.Config.Device.MountPath, 0)
		return
	}
	if a.enumerate != nil {
		present, err := a.enumerate()
		if err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "hotplug.enumerate_failed").Msg("initial device enumeration failed")
		}
		for _, ev := range present {
			a.dispatch(ev)
		}
	}
	if err := a.hotplug.Run(ctx, a.dispatch); err != nil && ctx.Err() == nil {
		a.logger.Warn().Err(err).Str(log.FieldEvent, "hotplug.monitor_failed").Msg("hotplug monitor stopped; attach events will not be seen")
	}
}

func (a *App) dispatch(ev hotplug.Event) {
	switch ev.Action {
	case hotplug.ActionAttach:
		a.rt.Supervisor.HandleAttach(ev.DeviceID, ev.ProductID)
	case hotplug.ActionDetach:
		a.rt.Supervisor.HandleDetach(ev.DeviceID)
	}
}

// watchStates triggers an auto-sync on every transition into connected.
func (a *App) watchStates(ctx context.Context, states <-chan supervisor.State) {
	prev := supervisor.PhaseDisconnected
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if st.Phase == supervisor.PhaseConnected && prev != supervisor.PhaseConnected &&
				st.Session != nil && a.autoSync.Load() {
				a.triggerSync(ctx, st.Session.Serial)
			}
			prev = st.Phase
		}
	}
}

// triggerSync runs a full sync for serial. Triggers arriving while one is in
// flight for the same serial share its result.
func (a *App) triggerSync(ctx context.Context, serial string) {
	a.audit.Log(audit.Event{
		Type:     audit.EventSyncStart,
		Actor:    audit.ActorSystem,
		Action:   "auto-sync on connect",
		Resource: serial,
		Result:   audit.ResultStarted,
	})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		v, err, _ := a.syncs.Do(serial, func() (any, error) {
			res, err := a.rt.Syncer.Sync(ctx)
			return res, err
		})
		logger := a.logger.With().Str(log.FieldDeviceSerial, serial).Logger()
		switch {
		case errors.Is(err, syncer.ErrSessionActive):
			logger.Debug().Str(log.FieldEvent, "sync.auto_skipped").Msg("sync already running")
		case err != nil:
			logger.Warn().Err(err).Str(log.FieldEvent, "sync.auto_failed").Msg("auto-sync failed")
		default:
			res := v.(syncer.Result)
			logger.Info().
				Str(log.FieldEvent, "sync.auto_done").
				Str("status", res.Status()).
				Int("downloaded", res.Stats.Downloaded).
				Int("skipped", res.Stats.Skipped).
				Int("failed", res.Stats.Failed).
				Msg("auto-sync finished")
		}
	}()
}
