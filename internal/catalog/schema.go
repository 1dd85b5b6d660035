// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import "github.com/ManuGH/hidocu/internal/persistence/sqlite"

// Version 1 is the legacy recordings table. Databases created by older tools
// start there and are upgraded in place.
var migrations = []sqlite.Migration{
	{Version: 1, SQL: `
	CREATE TABLE IF NOT EXISTS recordings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT UNIQUE NOT NULL,
		filepath TEXT NOT NULL,
		title TEXT,
		file_size_bytes INTEGER,
		duration_seconds INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		modified_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		device_serial TEXT,
		device_model TEXT,
		recording_mode TEXT
	);`},
	{Version: 2, SQL: `
	ALTER TABLE recordings ADD COLUMN recorded_at TEXT;
	ALTER TABLE recordings ADD COLUMN sync_status TEXT NOT NULL DEFAULT 'local_only'
		CHECK(sync_status IN ('local_only', 'on_device_only', 'synced'));
	ALTER TABLE recordings ADD COLUMN playback_position REAL NOT NULL DEFAULT 0;
	CREATE INDEX IF NOT EXISTS idx_recordings_device_serial ON recordings(device_serial);
	`},
}
