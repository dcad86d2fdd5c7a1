package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema creates the tables used by the timetable engine. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	building TEXT NOT NULL DEFAULT '',
	floor INTEGER NOT NULL DEFAULT 0,
	type TEXT NOT NULL,
	capacity INTEGER NOT NULL CHECK (capacity >= 0),
	equipment TEXT[] NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'active',
	allow_theory_class BOOLEAN NOT NULL DEFAULT TRUE,
	allow_lab_class BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS subjects (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	weekly_periods INTEGER NOT NULL CHECK (weekly_periods >= 0),
	required_equipment TEXT[] NOT NULL DEFAULT '{}',
	requires_lab BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS faculty (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	max_hours_per_week INTEGER NOT NULL DEFAULT 0,
	available_days BIGINT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS sections (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	strength INTEGER NOT NULL DEFAULT 0,
	preferred_buildings TEXT[] NOT NULL DEFAULT '{}',
	total_periods_per_week INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS mappings (
	id TEXT PRIMARY KEY,
	section_id TEXT NOT NULL REFERENCES sections(id),
	subject_id TEXT NOT NULL REFERENCES subjects(id),
	faculty_id TEXT NOT NULL REFERENCES faculty(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (section_id, subject_id)
)`,
	`CREATE TABLE IF NOT EXISTS timetables (
	id TEXT PRIMARY KEY,
	section_id TEXT NOT NULL REFERENCES sections(id),
	version INTEGER NOT NULL,
	is_published BOOLEAN NOT NULL DEFAULT FALSE,
	previous_version_id TEXT REFERENCES timetables(id),
	revision_history JSONB NOT NULL DEFAULT '[]',
	meta JSONB NOT NULL DEFAULT '{}',
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	published_at TIMESTAMPTZ,
	UNIQUE (section_id, version)
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS timetables_one_published ON timetables (section_id) WHERE is_published`,
	`CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES rooms(id),
	room_code TEXT NOT NULL,
	original_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	status TEXT NOT NULL,
	total_affected INTEGER NOT NULL DEFAULT 0,
	auto_resolved INTEGER NOT NULL DEFAULT 0,
	manually_resolved INTEGER NOT NULL DEFAULT 0,
	restored INTEGER NOT NULL DEFAULT 0,
	unresolved INTEGER NOT NULL DEFAULT 0,
	detected_by TEXT NOT NULL,
	dismissed_by TEXT,
	dismiss_reason TEXT,
	meta JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	resolved_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS schedule_items (
	id TEXT PRIMARY KEY,
	timetable_id TEXT NOT NULL REFERENCES timetables(id) ON DELETE CASCADE,
	section_id TEXT NOT NULL,
	day INTEGER NOT NULL,
	period INTEGER NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	faculty_id TEXT NOT NULL,
	room_id TEXT REFERENCES rooms(id),
	note TEXT NOT NULL DEFAULT '',
	is_affected BOOLEAN NOT NULL DEFAULT FALSE,
	conflict_id TEXT REFERENCES conflicts(id),
	original_room_id TEXT,
	affected_reason TEXT,
	requires_manual_assignment BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (timetable_id, day, period)
)`,
	`CREATE INDEX IF NOT EXISTS schedule_items_room_slot ON schedule_items (room_id, day, period)`,
	`CREATE TABLE IF NOT EXISTS conflict_entries (
	id TEXT PRIMARY KEY,
	conflict_id TEXT NOT NULL REFERENCES conflicts(id) ON DELETE CASCADE,
	schedule_item_id TEXT NOT NULL,
	timetable_id TEXT NOT NULL,
	section_id TEXT NOT NULL,
	section_name TEXT NOT NULL DEFAULT '',
	subject_id TEXT NOT NULL,
	subject_name TEXT NOT NULL DEFAULT '',
	faculty_id TEXT NOT NULL,
	faculty_name TEXT NOT NULL DEFAULT '',
	day INTEGER NOT NULL,
	period INTEGER NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	status TEXT NOT NULL,
	resolution_method TEXT,
	new_room_id TEXT,
	resolved_at TIMESTAMPTZ,
	resolved_by TEXT,
	failure_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS room_audit_logs (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	change_type TEXT NOT NULL,
	timetable_id TEXT NOT NULL,
	schedule_item_id TEXT NOT NULL,
	section_id TEXT NOT NULL,
	day INTEGER NOT NULL,
	period INTEGER NOT NULL,
	conflict_id TEXT,
	old_room_id TEXT,
	old_room_code TEXT NOT NULL DEFAULT '',
	new_room_id TEXT NOT NULL,
	new_room_code TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	validation_warnings_overridden TEXT[] NOT NULL DEFAULT '{}',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS room_audit_logs_slot ON room_audit_logs (section_id, day, period, created_at)`,
}

// Migrate applies the schema inside a single transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
