// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/hidocu/internal/daemon"
	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/syncer"
)

// errSessionIncomplete makes the process exit non-zero after a partial or
// cancelled session. The summary has already been printed.
var errSessionIncomplete = errors.New("session did not complete")

func newSyncCmd(c *cli) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "sync [files...]",
		Short: "Connect to the recorder once and download new recordings",
		Long: "Connects to the recorder at device.mountPath, downloads every recording not yet in\n" +
			"the library (or only the named ones) and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Device.MountPath == "" {
				return errors.New("device.mountPath is not configured")
			}
			return c.oneShot(cmd.Context(), cmd.OutOrStdout(), quiet, func(ctx context.Context, rt *daemon.Runtime) (syncer.Result, error) {
				if err := rt.Supervisor.ConnectWithRetry(ctx); err != nil {
					return syncer.Result{}, err
				}
				defer func() { _ = rt.Supervisor.Disconnect(context.Background()) }()
				return rt.Syncer.Sync(ctx, args...)
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func newImportCmd(c *cli) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "import <paths...>",
		Short: "Copy local audio files into the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, p := range args {
				abs, err := filepath.Abs(p)
				if err != nil {
					return err
				}
				paths = append(paths, abs)
			}
			return c.oneShot(cmd.Context(), cmd.OutOrStdout(), quiet, func(ctx context.Context, rt *daemon.Runtime) (syncer.Result, error) {
				return rt.Syncer.Import(ctx, paths)
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

// oneShot builds a runtime, runs fn with progress printing and prints the summary.
func (c *cli) oneShot(ctx context.Context, out io.Writer, quiet bool, fn func(context.Context, *daemon.Runtime) (syncer.Result, error)) error {
	rt, err := daemon.NewRuntime(ctx, c.cfg, daemon.RuntimeOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	done := make(chan struct{})
	printed := make(chan struct{})
	if quiet {
		close(printed)
	} else {
		updates, unsubscribe := rt.Syncer.Subscribe()
		go func() {
			defer close(printed)
			defer unsubscribe()
			for {
				select {
				case <-done:
					return
				case p, ok := <-updates:
					if !ok {
						return
					}
					printProgress(out, p)
				}
			}
		}()
	}

	res, err := fn(ctx, rt)
	close(done)
	<-printed
	if err != nil {
		if device.IsNotConnected(err) {
			return fmt.Errorf("recorder not reachable at %s: %w", c.cfg.Device.MountPath, err)
		}
		return err
	}
	_, _ = fmt.Fprintln(out, res.Message())
	if res.Status() != "ok" {
		return errSessionIncomplete
	}
	return nil
}

func printProgress(w io.Writer, p syncer.Progress) {
	if p.CurrentFile == "" {
		return
	}
	line := fmt.Sprintf("[%d/%d] %s %s/%s", p.FileIndex+1, p.Stats.Total, p.CurrentFile,
		humanBytes(p.BytesTransferred), humanBytes(p.BytesExpected))
	if p.Throughput > 0 {
		line += fmt.Sprintf(" %s/s", humanBytes(int64(p.Throughput)))
	}
	if p.ETA != nil {
		line += " eta " + p.ETA.Round(time.Second).String()
	}
	_, _ = fmt.Fprintln(w, line)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
