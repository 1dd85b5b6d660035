// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/hidocu/internal/validate"
)

// Validate checks every field and reports all problems at once as a
// ValidationError.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("dataDir", cfg.DataDir)
	v.NotEmpty("storage.dir", cfg.Storage.Dir)
	v.FilePath("database.path", cfg.Database.Path)
	v.OneOf("database.integrityCheck", cfg.Database.IntegrityCheck, []string{"off", "quick", "full"})

	if _, err := validate.ParseLogLevel(cfg.Log.Level); err != nil {
		v.AddError("log.level", "must be one of debug, info, warn, error", cfg.Log.Level)
	}
	v.FilePath("log.file", cfg.Log.File)
	if cfg.Log.File != "" {
		v.Positive("log.maxSizeMB", cfg.Log.MaxSizeMB)
	}

	if _, err := cfg.Device.Vendor(); err != nil {
		v.AddError("device.vendorId", err.Error(), cfg.Device.VendorID)
	}
	v.Range("device.maxRetryAttempts", cfg.Device.MaxRetryAttempts, 1, 10)
	validateBackoff(v, "device.connectBackoff", cfg.Device.ConnectBackoff)
	validateBackoff(v, "device.verifyBackoff", cfg.Device.VerifyBackoff)
	v.DurationRange("device.batteryPollInterval", cfg.Device.BatteryPollInterval, time.Second, time.Hour)
	v.DurationRange("device.keepAliveInterval", cfg.Device.KeepAliveInterval, 0, 5*time.Minute)

	v.DurationRange("sync.progressInterval", cfg.Sync.ProgressInterval, 10*time.Millisecond, 10*time.Second)
	v.DurationRange("sync.throughputWindow", cfg.Sync.ThroughputWindow, 500*time.Millisecond, time.Minute)

	if cfg.Hotplug.Enabled {
		v.NotEmpty("hotplug.udevadmBin", cfg.Hotplug.UdevadmBin)
		v.NotEmpty("hotplug.sysfsRoot", cfg.Hotplug.SysfsRoot)
	}

	if cfg.API.Enabled {
		v.ListenAddr("api.listen", cfg.API.Listen)
		v.Range("api.rateLimit", cfg.API.RateLimit, 1, 10_000)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}

func validateBackoff(v *validate.Validator, field string, b BackoffConfig) {
	v.Range(field+".attempts", b.Attempts, 1, 10)
	v.DurationRange(field+".initial", b.Initial, time.Millisecond, time.Minute)
	v.FloatRange(field+".factor", b.Factor, 1, 10)
	if b.Max < b.Initial {
		v.AddError(field+".max", "must not be smaller than initial", b.Max)
	}
}
