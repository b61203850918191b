package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently on startup. Roster tables are owned by the
// content site; they are created here so a fresh database is usable.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS team_members (
		id    TEXT PRIMARY KEY,
		name  TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS event_registrations (
		id       TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name     TEXT NOT NULL,
		email    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS event_volunteers (
		id       TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name     TEXT NOT NULL,
		email    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS event_team (
		id       TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name     TEXT NOT NULL,
		email    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id  TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		device_id  TEXT NOT NULL REFERENCES devices(device_id),
		token      TEXT PRIMARY KEY,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_sessions (
		id               TEXT PRIMARY KEY,
		identity_id      TEXT NOT NULL,
		scope_kind       TEXT NOT NULL CHECK (scope_kind IN ('daily', 'event')),
		scope_date       TEXT NOT NULL DEFAULT '',
		event_id         TEXT NOT NULL DEFAULT '',
		attendee_type    TEXT NOT NULL DEFAULT '',
		scope_key        TEXT NOT NULL,
		display_name     TEXT NOT NULL,
		contact_email    TEXT NOT NULL DEFAULT '',
		check_in_time    TIMESTAMPTZ NOT NULL,
		check_out_time   TIMESTAMPTZ,
		duration_minutes INTEGER,
		scan_method      TEXT NOT NULL,
		device_id        TEXT NOT NULL DEFAULT '',
		CHECK (check_out_time IS NULL OR check_out_time >= check_in_time),
		CHECK ((check_out_time IS NULL) = (duration_minutes IS NULL))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_sessions_one_open
		ON attendance_sessions (identity_id, scope_key) WHERE check_out_time IS NULL`,
	`CREATE INDEX IF NOT EXISTS attendance_sessions_daily ON attendance_sessions (scope_date) WHERE scope_kind = 'daily'`,
	`CREATE INDEX IF NOT EXISTS attendance_sessions_event ON attendance_sessions (event_id, attendee_type) WHERE scope_kind = 'event'`,
}

// Migrate creates the tables the service needs.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
