// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hidocu_device_connect_attempts_total",
		Help: "Device connection attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|cancelled

	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hidocu_device_connection_state",
		Help: "Current device connection state (active state=1; others 0)",
	}, []string{"state"})

	connectionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hidocu_device_connection_failures_total",
		Help: "Terminal connection failures by classified reason",
	}, []string{"reason"}) // reason=timeout|device_busy|communication_error

	batteryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hidocu_device_battery_percent",
		Help: "Last reported battery level of the connected device",
	})

	batteryCharging = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hidocu_device_battery_charging",
		Help: "Whether the connected device reports charging (1) or not (0)",
	})

	storageFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hidocu_device_storage_free_bytes",
		Help: "Free bytes on the connected device",
	})

	transportOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hidocu_transport_operation_duration_seconds",
		Help:    "Duration of serialized transport operations",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"op", "outcome"})

	hotplugEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hidocu_hotplug_events_total",
		Help: "Physical attach/detach events observed",
	}, []string{"action"})
)

var connectionStates = []string{"disconnected", "connecting", "connected", "connection_failed"}

// RecordConnectAttempt counts one connection attempt.
func RecordConnectAttempt(outcome string) {
	connectAttemptsTotal.WithLabelValues(outcome).Inc()
}

// SetConnectionState marks state as the active connection state.
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		connectionState.WithLabelValues(s).Set(value)
	}
}

// RecordConnectionFailure counts a terminal connection failure.
func RecordConnectionFailure(reason string) {
	connectionFailuresTotal.WithLabelValues(reason).Inc()
}

// SetBattery records the last battery reading.
func SetBattery(percent int, charging bool) {
	batteryPercent.Set(float64(percent))
	if charging {
		batteryCharging.Set(1)
	} else {
		batteryCharging.Set(0)
	}
}

// SetStorageFree records free device storage.
func SetStorageFree(free uint64) {
	storageFreeBytes.Set(float64(free))
}

// ObserveTransportOp records how long a serialized operation held the transport.
func ObserveTransportOp(op string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	transportOpDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// RecordHotplugEvent counts an attach or detach event.
func RecordHotplugEvent(action string) {
	hotplugEventsTotal.WithLabelValues(action).Inc()
}
