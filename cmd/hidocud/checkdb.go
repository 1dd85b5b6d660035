// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/hidocu/internal/persistence/sqlite"
)

var errIntegrity = errors.New("integrity check failed")

func newCheckDBCmd(c *cli) *cobra.Command {
	var (
		mode string
		path string
	)
	cmd := &cobra.Command{
		Use:   "check-db",
		Short: "Check catalog database integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode = strings.ToLower(strings.TrimSpace(mode))
			if mode != "quick" && mode != "full" {
				return fmt.Errorf("invalid mode %q: use quick or full", mode)
			}
			if path == "" {
				path = c.cfg.Database.Path
			}
			problems, err := sqlite.VerifyIntegrity(cmd.Context(), path, mode)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(problems) > 0 {
				_, _ = fmt.Fprintf(out, "FAIL %s (%s)\n", path, mode)
				for _, p := range problems {
					_, _ = fmt.Fprintf(out, "  %s\n", p)
				}
				return errIntegrity
			}
			_, _ = fmt.Fprintf(out, "OK %s (%s)\n", path, mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "quick", "verification mode: quick or full")
	cmd.Flags().StringVar(&path, "path", "", "database file (defaults to the configured catalog)")
	return cmd
}
