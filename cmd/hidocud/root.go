// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/hidocu/internal/config"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/version"
)

// cli carries state shared by the subcommands.
type cli struct {
	configPath string
	cfg        config.AppConfig
	loader     *config.Loader
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "hidocud",
		Short:         "Sync recordings from USB voice recorders",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.load()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config file (YAML); defaults to $"+config.EnvConfigFile+" or <dataDir>/config.yaml")

	root.AddCommand(
		newRunCmd(c),
		newSyncCmd(c),
		newImportCmd(c),
		newRecordingsCmd(c),
		newCheckDBCmd(c),
		newVersionCmd(),
	)
	return root
}

// load resolves the config path and configures logging.
// Precedence: --config, $HIDOCU_CONFIG, <dataDir>/config.yaml if present.
func (c *cli) load() error {
	path := strings.TrimSpace(c.configPath)
	if path == "" {
		path = strings.TrimSpace(config.ParseString(config.EnvConfigFile, ""))
	}
	if path == "" {
		dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, config.Defaults().DataDir))
		auto := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(auto); err == nil {
			path = auto
		}
	}

	c.loader = config.NewLoader(path, version.Version)
	cfg, err := c.loader.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg

	log.Configure(log.Config{
		Level:      cfg.Log.Level,
		Output:     os.Stderr,
		Service:    cfg.Log.Service,
		Version:    cfg.Version,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	logger := log.WithComponent("cli")
	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Debug().
		Str(log.FieldEvent, "config.loaded").
		Str("source", source).
		Str(log.FieldPath, path).
		Msg("configuration loaded")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version.String() + "\n"))
			return err
		},
	}
}
