// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "hidocu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(EnvDataDir, dataDir)

	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, filepath.Join(dataDir, "recordings"), cfg.Storage.Dir)
	assert.Equal(t, filepath.Join(dataDir, "recordings", ".incoming"), cfg.Storage.TempDir)
	assert.Equal(t, filepath.Join(dataDir, "hidocu.sqlite"), cfg.Database.Path)
	assert.Equal(t, 3, cfg.Device.MaxRetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Device.BatteryPollInterval)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Device.ConnectBackoff.Policy().Schedule())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, cfg.Device.VerifyBackoff.Policy().Schedule())

	vendor, err := cfg.Device.Vendor()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x10d6), vendor)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, "")
	path := writeConfig(t, dir, `
dataDir: `+dir+`
log:
  level: debug
device:
  maxRetryAttempts: 5
  batteryPollInterval: 1m
sync:
  autoSync: false
api:
  listen: "127.0.0.1:9999"
`)
	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Device.MaxRetryAttempts)
	assert.Equal(t, time.Minute, cfg.Device.BatteryPollInterval)
	assert.False(t, cfg.Sync.AutoSync)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
	assert.Equal(t, "info", Defaults().Log.Level, "defaults must not be mutated")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "dataDir: "+dir+"\nlog:\n  level: debug\ndevice:\n  maxRetryAttempts: 5\n")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvMaxRetryAttempts, "2")
	t.Setenv(EnvAutoSync, "false")
	t.Setenv(EnvDataDir, "")

	l := NewLoader(path, "test")
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Device.MaxRetryAttempts)
	assert.False(t, cfg.Sync.AutoSync)
	assert.Contains(t, l.ConsumedEnvKeys, EnvLogLevel)
}

func TestLoad_RejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "device:\n  vendorID: 10d6\n  pollBattery: true\n")
	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "dataDir: "+dir+"\n---\ndataDir: /tmp\n")
	_, err := NewLoader(path, "test").Load()
	assert.ErrorContains(t, err, "multiple documents")
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hidocu.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "test").Load()
	assert.ErrorContains(t, err, "only YAML")
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	cfg, err := NewLoader(writeConfig(t, dir, ""), "test").Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Defaults()
	resolvePaths(&cfg)
	cfg.Log.Level = "loud"
	cfg.Device.VendorID = "zz"
	cfg.Device.MaxRetryAttempts = 0
	cfg.Device.ConnectBackoff.Max = 0
	cfg.API.Listen = "nope"
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Exporter = "zipkin"

	err := Validate(cfg)
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ElementsMatch(t, []string{
		"log.level",
		"device.vendorId",
		"device.maxRetryAttempts",
		"device.connectBackoff.max",
		"api.listen",
		"telemetry.exporter",
	}, ve.Fields())
}

func TestValidate_DisabledSectionsAreNotChecked(t *testing.T) {
	cfg := Defaults()
	resolvePaths(&cfg)
	cfg.API.Enabled = false
	cfg.API.Listen = ""
	cfg.Hotplug.Enabled = false
	cfg.Hotplug.UdevadmBin = ""
	assert.NoError(t, Validate(cfg))
}

func TestProviderConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Version = "v9"
	cfg.Telemetry.Enabled = true
	p := cfg.Provider()
	assert.True(t, p.Enabled)
	assert.Equal(t, "hidocu", p.ServiceName)
	assert.Equal(t, "v9", p.ServiceVersion)
	assert.Equal(t, "grpc", p.ExporterType)
}
