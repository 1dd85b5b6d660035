// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hidocu_sync_files_total",
		Help: "Files processed by sync and import sessions by outcome",
	}, []string{"kind", "outcome"}) // kind=sync|import, outcome=downloaded|skipped|failed

	syncBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hidocu_sync_bytes_transferred_total",
		Help: "Bytes written to permanent storage by sync and import",
	})

	syncSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hidocu_sync_sessions_active",
		Help: "Number of sync or import sessions currently running",
	})

	syncSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hidocu_sync_sessions_total",
		Help: "Finished sync and import sessions by result",
	}, []string{"kind", "result"}) // result=ok|partial|cancelled|error

	syncConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hidocu_sync_conflicts_total",
		Help: "Filename conflicts resolved by moving the existing recording to a backup name",
	})
)

// RecordSyncFile counts one processed file.
func RecordSyncFile(kind, outcome string) {
	syncFilesTotal.WithLabelValues(kind, outcome).Inc()
}

// AddSyncBytes adds committed bytes.
func AddSyncBytes(n int64) {
	if n > 0 {
		syncBytesTotal.Add(float64(n))
	}
}

// IncSyncSessionsActive marks a session as started.
func IncSyncSessionsActive() { syncSessionsActive.Inc() }

// DecSyncSessionsActive marks a session as finished.
func DecSyncSessionsActive() { syncSessionsActive.Dec() }

// RecordSyncSession counts a finished session.
func RecordSyncSession(kind, result string) {
	syncSessionsTotal.WithLabelValues(kind, result).Inc()
}

// RecordSyncConflict counts a conflict resolved with a backup rename.
func RecordSyncConflict() {
	syncConflictsTotal.Inc()
}
