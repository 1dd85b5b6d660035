// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog persists recording metadata in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ManuGH/hidocu/internal/persistence/sqlite"
)

const recordColumns = `id, filename, filepath, title, file_size_bytes, duration_seconds,
	created_at, modified_at, recorded_at, device_serial, device_model, recording_mode,
	sync_status, playback_position`

// Store provides SQLite persistence for recordings.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the catalog at dbPath and applies migrations.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sqlite.Open(ctx, dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s, err := NewStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database and runs migrations.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := sqlite.Migrate(ctx, db, migrations); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FetchByFilename returns the record for filename, or nil when there is none.
func (s *Store) FetchByFilename(ctx context.Context, filename string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM recordings WHERE filename = ?`, filename)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", filename, err)
	}
	return r, nil
}

// Get returns the record with the given id, or nil when there is none.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM recordings WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %d: %w", id, err)
	}
	return r, nil
}

// Insert stores r and sets its ID. CreatedAt and ModifiedAt default to now.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	if r.SyncStatus == "" {
		r.SyncStatus = StatusLocalOnly
	}
	if !r.SyncStatus.Valid() {
		return fmt.Errorf("insert %q: invalid sync status %q", r.Filename, r.SyncStatus)
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.ModifiedAt.IsZero() {
		r.ModifiedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO recordings (filename, filepath, title, file_size_bytes, duration_seconds,
		created_at, modified_at, recorded_at, device_serial, device_model, recording_mode,
		sync_status, playback_position)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Filename, r.FilePath, nullString(r.Title), r.SizeBytes, r.DurationSeconds,
		formatTime(r.CreatedAt), formatTime(r.ModifiedAt), formatTimePtr(r.RecordedAt),
		nullString(r.DeviceSerial), nullString(r.DeviceModel), nullString(r.RecordingMode),
		string(r.SyncStatus), r.PlaybackPosition,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrFilenameTaken, r.Filename)
		}
		return fmt.Errorf("insert %q: %w", r.Filename, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %q: %w", r.Filename, err)
	}
	r.ID = id
	return nil
}

// UpdateFilePath points record id at a new relative path and filename.
func (s *Store) UpdateFilePath(ctx context.Context, id int64, relPath, filename string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET filepath = ?, filename = ?, modified_at = ? WHERE id = ?`,
		relPath, filename, formatTime(s.now().UTC()), id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrFilenameTaken, filename)
		}
		return fmt.Errorf("update path of %d: %w", id, err)
	}
	return expectOne(res, id)
}

// UpdateSyncStatus sets the sync status of record id.
func (s *Store) UpdateSyncStatus(ctx context.Context, id int64, status SyncStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update status of %d: invalid sync status %q", id, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET sync_status = ?, modified_at = ? WHERE id = ?`,
		string(status), formatTime(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update status of %d: %w", id, err)
	}
	return expectOne(res, id)
}

// UpdatePlaybackPosition stores the resume position in seconds.
func (s *Store) UpdatePlaybackPosition(ctx context.Context, id int64, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET playback_position = ?, modified_at = ? WHERE id = ?`,
		seconds, formatTime(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update position of %d: %w", id, err)
	}
	return expectOne(res, id)
}

// Delete removes record id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %d: %w", id, err)
	}
	return expectOne(res, id)
}

// ExistsByFilename reports whether any record uses filename.
func (s *Store) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM recordings WHERE filename = ?`, filename).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", filename, err)
	}
	return n > 0, nil
}

// ExistsByFilenameInSource reports whether filename was recorded from the
// device with the given serial.
func (s *Store) ExistsByFilenameInSource(ctx context.Context, filename, deviceSerial string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM recordings WHERE filename = ? AND device_serial = ?`,
		filename, deviceSerial).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("exists %q for %s: %w", filename, deviceSerial, err)
	}
	return n > 0, nil
}

// List returns records newest first. A limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM recordings ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return collect(rows)
}

// ListBySerial returns every record from one device, ordered by filename.
func (s *Store) ListBySerial(ctx context.Context, deviceSerial string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM recordings WHERE device_serial = ? ORDER BY filename`,
		deviceSerial)
	if err != nil {
		return nil, fmt.Errorf("list for %s: %w", deviceSerial, err)
	}
	return collect(rows)
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM recordings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r                           Record
		title, serial, model, mode  sql.NullString
		created, modified, recorded sql.NullString
		size                        sql.NullInt64
		duration                    sql.NullFloat64
		status                      string
	)
	if err := sc.Scan(&r.ID, &r.Filename, &r.FilePath, &title, &size, &duration,
		&created, &modified, &recorded, &serial, &model, &mode,
		&status, &r.PlaybackPosition); err != nil {
		return nil, err
	}
	r.Title = title.String
	if size.Valid {
		r.SizeBytes = Int64(size.Int64)
	}
	r.DurationSeconds = duration.Float64
	if t, ok := parseTime(created); ok {
		r.CreatedAt = t
	}
	if t, ok := parseTime(modified); ok {
		r.ModifiedAt = t
	}
	if t, ok := parseTime(recorded); ok {
		r.RecordedAt = &t
	}
	r.DeviceSerial = serial.String
	r.DeviceModel = model.String
	r.RecordingMode = mode.String
	r.SyncStatus = SyncStatus(status)
	return &r, nil
}

func collect(rows *sql.Rows) ([]Record, error) {
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Legacy rows carry SQLite's CURRENT_TIMESTAMP format.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTime(v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
