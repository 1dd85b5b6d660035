// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/hidocu/internal/config"
	"github.com/ManuGH/hidocu/internal/daemon"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/telemetry"
)

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: watch for recorders, auto-sync and serve the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runDaemon(cmd.Context())
		},
	}
}

func (c *cli) runDaemon(ctx context.Context) error {
	cfg := c.cfg
	logger := log.WithComponent("daemon")
	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("version", cfg.Version).
		Str("storage", cfg.Storage.Dir).
		Str("database", cfg.Database.Path).
		Str("mount", cfg.Device.MountPath).
		Msg("starting hidocu daemon")
	if cfg.Device.MountPath == "" {
		logger.Warn().Str(log.FieldEvent, "device.mount_unset").Msg("device.mountPath is empty; connects will fail until it is configured")
	}

	tp, err := telemetry.NewProvider(ctx, cfg.Provider())
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("telemetry shutdown error")
			}
		}()
	}

	rt, err := daemon.NewRuntime(ctx, cfg, daemon.RuntimeOptions{})
	if err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	holder := config.NewConfigHolder(cfg, c.loader)
	app, err := daemon.NewApp(rt, holder)
	if err != nil {
		_ = rt.Close()
		return err
	}
	return app.Run(ctx)
}
