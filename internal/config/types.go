// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and hot-reloads hidocu configuration.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/hidocu/internal/resilience"
	"github.com/ManuGH/hidocu/internal/telemetry"
)

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir   string          `yaml:"dataDir"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Device    DeviceConfig    `yaml:"device"`
	Sync      SyncConfig      `yaml:"sync"`
	Hotplug   HotplugConfig   `yaml:"hotplug"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig locates recordings on disk.
type StorageConfig struct {
	// Dir defaults to <dataDir>/recordings.
	Dir string `yaml:"dir"`
	// TempDir defaults to <dir>/.incoming so renames stay on one filesystem.
	TempDir string `yaml:"tempDir"`
}

// DatabaseConfig locates the catalog.
type DatabaseConfig struct {
	// Path defaults to <dataDir>/hidocu.sqlite.
	Path string `yaml:"path"`
	// IntegrityCheck runs at startup: off, quick or full.
	IntegrityCheck string `yaml:"integrityCheck"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Service    string `yaml:"service"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// BackoffConfig is the YAML form of resilience.Backoff.
type BackoffConfig struct {
	Attempts int           `yaml:"attempts"`
	Initial  time.Duration `yaml:"initial"`
	Factor   float64       `yaml:"factor"`
	Max      time.Duration `yaml:"max"`
}

// Policy converts to the runtime schedule.
func (b BackoffConfig) Policy() resilience.Backoff {
	return resilience.Backoff{Attempts: b.Attempts, Initial: b.Initial, Factor: b.Factor, Max: b.Max}
}

// DeviceConfig covers connection handling.
type DeviceConfig struct {
	// VendorID is the USB vendor id in hex, e.g. "10d6".
	VendorID            string        `yaml:"vendorId"`
	MountPath           string        `yaml:"mountPath"`
	MaxRetryAttempts    int           `yaml:"maxRetryAttempts"`
	ConnectBackoff      BackoffConfig `yaml:"connectBackoff"`
	VerifyBackoff       BackoffConfig `yaml:"verifyBackoff"`
	BatteryPollInterval time.Duration `yaml:"batteryPollInterval"`
	KeepAliveInterval   time.Duration `yaml:"keepAliveInterval"`
}

// Vendor parses VendorID.
func (d DeviceConfig) Vendor() (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(d.VendorID), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid vendor id %q: %w", d.VendorID, err)
	}
	return uint16(v), nil
}

// SyncConfig tunes the sync pipeline.
type SyncConfig struct {
	AutoSync         bool          `yaml:"autoSync"`
	ProgressInterval time.Duration `yaml:"progressInterval"`
	ThroughputWindow time.Duration `yaml:"throughputWindow"`
	FFprobeBin       string        `yaml:"ffprobeBin"`
}

// HotplugConfig selects the attach/detach source.
type HotplugConfig struct {
	Enabled    bool   `yaml:"enabled"`
	UdevadmBin string `yaml:"udevadmBin"`
	SysfsRoot  string `yaml:"sysfsRoot"`
}

// APIConfig configures the control API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// RateLimit is the number of mutating requests allowed per minute and client.
	RateLimit int `yaml:"rateLimit"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Provider returns the tracer provider settings.
func (c AppConfig) Provider() telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.Log.Service,
		ServiceVersion: c.Version,
		ExporterType:   c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
	}
}
