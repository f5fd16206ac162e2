package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and applies migrations.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS employees (
		id          UUID PRIMARY KEY,
		employee_id TEXT UNIQUE NOT NULL,
		name        TEXT NOT NULL,
		department  TEXT NOT NULL DEFAULT 'General',
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS face_profiles (
		user_id     UUID PRIMARY KEY REFERENCES employees(id) ON DELETE CASCADE,
		embedding   vector(128) NOT NULL,
		quality     DOUBLE PRECISION NOT NULL DEFAULT 0,
		thumbnail   TEXT,
		enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id             UUID NOT NULL,
		user_id        UUID NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		day            DATE NOT NULL,
		check_in_at    TIMESTAMPTZ NOT NULL,
		check_in_conf  DOUBLE PRECISION NOT NULL DEFAULT 0,
		check_in_live  BOOLEAN NOT NULL DEFAULT FALSE,
		check_out_at   TIMESTAMPTZ,
		check_out_conf DOUBLE PRECISION,
		check_out_live BOOLEAN,
		status         TEXT NOT NULL CHECK (status IN ('present', 'late', 'half-day')),
		method         TEXT NOT NULL DEFAULT 'face',
		PRIMARY KEY (user_id, day)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance_records(day);

	CREATE TABLE IF NOT EXISTS system_settings (
		id                  SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		arrival_deadline    TEXT NOT NULL,
		half_day_after      TEXT NOT NULL,
		match_threshold     DOUBLE PRECISION NOT NULL,
		duplicate_threshold DOUBLE PRECISION NOT NULL,
		liveness_required   BOOLEAN NOT NULL,
		max_scan_attempts   INT NOT NULL,
		checkout_cooldown   BIGINT NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
