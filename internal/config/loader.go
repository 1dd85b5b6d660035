// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/hidocu/internal/device"
)

// Environment variable names.
const (
	EnvConfigFile          = "HIDOCU_CONFIG"
	EnvDataDir             = "HIDOCU_DATA_DIR"
	EnvStorageDir          = "HIDOCU_STORAGE_DIR"
	EnvTempDir             = "HIDOCU_TEMP_DIR"
	EnvDatabasePath        = "HIDOCU_DB_PATH"
	EnvIntegrityCheck      = "HIDOCU_DB_INTEGRITY_CHECK"
	EnvLogLevel            = "HIDOCU_LOG_LEVEL"
	EnvLogFile             = "HIDOCU_LOG_FILE"
	EnvVendorID            = "HIDOCU_DEVICE_VENDOR_ID"
	EnvMountPath           = "HIDOCU_DEVICE_MOUNT"
	EnvMaxRetryAttempts    = "HIDOCU_DEVICE_RETRY_ATTEMPTS"
	EnvBatteryPollInterval = "HIDOCU_BATTERY_POLL_INTERVAL"
	EnvKeepAliveInterval   = "HIDOCU_KEEPALIVE_INTERVAL"
	EnvAutoSync            = "HIDOCU_AUTO_SYNC"
	EnvFFprobeBin          = "HIDOCU_FFPROBE_BIN"
	EnvHotplugEnabled      = "HIDOCU_HOTPLUG_ENABLED"
	EnvUdevadmBin          = "HIDOCU_UDEVADM_BIN"
	EnvSysfsRoot           = "HIDOCU_SYSFS_ROOT"
	EnvAPIEnabled          = "HIDOCU_API_ENABLED"
	EnvAPIListen           = "HIDOCU_API_LISTEN"
	EnvAPIRateLimit        = "HIDOCU_API_RATE_LIMIT"
	EnvTelemetryEnabled    = "HIDOCU_TELEMETRY_ENABLED"
	EnvTelemetryExporter   = "HIDOCU_OTLP_EXPORTER"
	EnvTelemetryEndpoint   = "HIDOCU_OTLP_ENDPOINT"
	EnvTelemetrySampling   = "HIDOCU_TRACE_SAMPLING"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, empty when running from ENV only.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  defaultDataDir(),
		Database: DatabaseConfig{IntegrityCheck: "quick"},
		Log: LogConfig{
			Level:      "info",
			Service:    "hidocu",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Device: DeviceConfig{
			VendorID:            fmt.Sprintf("%04x", device.VendorID),
			MaxRetryAttempts:    3,
			ConnectBackoff:      BackoffConfig{Attempts: 3, Initial: time.Second, Factor: 2, Max: 4 * time.Second},
			VerifyBackoff:       BackoffConfig{Attempts: 3, Initial: 500 * time.Millisecond, Factor: 2, Max: 2 * time.Second},
			BatteryPollInterval: 30 * time.Second,
			KeepAliveInterval:   10 * time.Second,
		},
		Sync: SyncConfig{
			AutoSync:         true,
			ProgressInterval: 250 * time.Millisecond,
			ThroughputWindow: 3 * time.Second,
			FFprobeBin:       "ffprobe",
		},
		Hotplug: HotplugConfig{
			Enabled:    true,
			UdevadmBin: "udevadm",
			SysfsRoot:  "/sys",
		},
		API: APIConfig{
			Enabled:   true,
			Listen:    "127.0.0.1:8787",
			RateLimit: 30,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil && dir != "" {
		return filepath.Join(dir, ".local", "share", "hidocu")
	}
	return filepath.Join(os.TempDir(), "hidocu")
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: defaults, strict file parse, env overrides, derived paths, validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	resolvePaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString(EnvDataDir, cfg.DataDir)
	cfg.Storage.Dir = l.envString(EnvStorageDir, cfg.Storage.Dir)
	cfg.Storage.TempDir = l.envString(EnvTempDir, cfg.Storage.TempDir)
	cfg.Database.Path = l.envString(EnvDatabasePath, cfg.Database.Path)
	cfg.Database.IntegrityCheck = l.envString(EnvIntegrityCheck, cfg.Database.IntegrityCheck)

	cfg.Log.Level = l.envString(EnvLogLevel, cfg.Log.Level)
	cfg.Log.File = l.envString(EnvLogFile, cfg.Log.File)

	cfg.Device.VendorID = l.envString(EnvVendorID, cfg.Device.VendorID)
	cfg.Device.MountPath = l.envString(EnvMountPath, cfg.Device.MountPath)
	cfg.Device.MaxRetryAttempts = l.envInt(EnvMaxRetryAttempts, cfg.Device.MaxRetryAttempts)
	cfg.Device.BatteryPollInterval = l.envDuration(EnvBatteryPollInterval, cfg.Device.BatteryPollInterval)
	cfg.Device.KeepAliveInterval = l.envDuration(EnvKeepAliveInterval, cfg.Device.KeepAliveInterval)

	cfg.Sync.AutoSync = l.envBool(EnvAutoSync, cfg.Sync.AutoSync)
	cfg.Sync.FFprobeBin = l.envString(EnvFFprobeBin, cfg.Sync.FFprobeBin)

	cfg.Hotplug.Enabled = l.envBool(EnvHotplugEnabled, cfg.Hotplug.Enabled)
	cfg.Hotplug.UdevadmBin = l.envString(EnvUdevadmBin, cfg.Hotplug.UdevadmBin)
	cfg.Hotplug.SysfsRoot = l.envString(EnvSysfsRoot, cfg.Hotplug.SysfsRoot)

	cfg.API.Enabled = l.envBool(EnvAPIEnabled, cfg.API.Enabled)
	cfg.API.Listen = l.envString(EnvAPIListen, cfg.API.Listen)
	cfg.API.RateLimit = l.envInt(EnvAPIRateLimit, cfg.API.RateLimit)

	cfg.Telemetry.Enabled = l.envBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString(EnvTelemetryExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString(EnvTelemetryEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvTelemetrySampling, cfg.Telemetry.SamplingRate)
}

// resolvePaths makes DataDir absolute and derives unset paths from it.
func resolvePaths(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Join(cfg.DataDir, "recordings")
	}
	if cfg.Storage.TempDir == "" {
		cfg.Storage.TempDir = filepath.Join(cfg.Storage.Dir, ".incoming")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "hidocu.sqlite")
	}
}
