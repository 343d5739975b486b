package storage

import (
	"context"
	"fmt"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		roles TEXT[] NOT NULL DEFAULT '{}',
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS residential_estates (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		estate_type TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		area_sqm DOUBLE PRECISION NOT NULL DEFAULT 0,
		num_units INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS estate_plant (
		id BIGINT PRIMARY KEY,
		estate_id BIGINT REFERENCES residential_estates(id) ON DELETE SET NULL,
		name TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		address TEXT NOT NULL DEFAULT '',
		pac DOUBLE PRECISION NOT NULL DEFAULT 0,
		efficiency DOUBLE PRECISION NOT NULL DEFAULT 0,
		etoday DOUBLE PRECISION NOT NULL DEFAULT 0,
		etotal DOUBLE PRECISION NOT NULL DEFAULT 0,
		type INTEGER NOT NULL DEFAULT 0,
		master_id BIGINT NOT NULL DEFAULT 0,
		thumb_url TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		plant_create TIMESTAMPTZ,
		plant_update TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_estate_plant_estate ON estate_plant (estate_id)`,
	`CREATE TABLE IF NOT EXISTS inverters (
		sn TEXT PRIMARY KEY,
		id BIGINT NOT NULL DEFAULT 0,
		plant_id BIGINT NOT NULL DEFAULT 0,
		alias TEXT NOT NULL DEFAULT '',
		gsn TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 0,
		type INTEGER NOT NULL DEFAULT 0,
		comm_type TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		rate_power DOUBLE PRECISION NOT NULL DEFAULT 0,
		pac DOUBLE PRECISION NOT NULL DEFAULT 0,
		etoday DOUBLE PRECISION NOT NULL DEFAULT 0,
		etotal DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inverters_plant ON inverters (plant_id)`,
	`CREATE TABLE IF NOT EXISTS plant_power_10min (
		plant_id BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		metric TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (plant_id, ts, metric)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plant_power_ts ON plant_power_10min (ts)`,
	`CREATE TABLE IF NOT EXISTS estate_plant_daily_report (
		id BIGSERIAL PRIMARY KEY,
		plant_id BIGINT NOT NULL,
		estate_id BIGINT NOT NULL DEFAULT 0,
		report_date DATE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 0,
		pac DOUBLE PRECISION NOT NULL DEFAULT 0,
		efficiency DOUBLE PRECISION NOT NULL DEFAULT 0,
		etoday DOUBLE PRECISION NOT NULL DEFAULT 0,
		etotal DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (plant_id, report_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_report_date ON estate_plant_daily_report (report_date)`,
}

// Migrate applies the schema. Statements are idempotent so the method is safe
// to run on every startup.
func (r *postgresRepository) Migrate(ctx context.Context) error {
	for _, stmt := range migrationStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// Migrator is implemented by repositories that manage their own schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}
