package db

import (
	"context"
	"database/sql"
	"fmt"

	libdb "parkwise/backend/libs/db"
)

// NewPostgres returns shared DB connection.
func NewPostgres(dsn string) (*sql.DB, error) {
	return libdb.NewPostgresDB(dsn)
}

// Migrate creates the engine's tables and indexes when they are missing.
// The payers and vehicles tables belong to the registry and are only created
// here so a fresh database can serve lookups.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db: migrate statement %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payers (
		id         TEXT PRIMARY KEY,
		tier       TEXT NOT NULL DEFAULT 'standard',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id         TEXT PRIMARY KEY,
		payer_id   TEXT NOT NULL REFERENCES payers(id),
		plate      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS parking_sessions (
		id               TEXT PRIMARY KEY,
		payer_id         TEXT NOT NULL,
		vehicle_id       TEXT NOT NULL,
		lot_id           TEXT NOT NULL,
		gate_id          TEXT NOT NULL DEFAULT '',
		rate_type        TEXT NOT NULL,
		status           TEXT NOT NULL,
		entry_time       TIMESTAMPTZ NOT NULL,
		exit_time        TIMESTAMPTZ,
		duration_minutes BIGINT NOT NULL DEFAULT 0,
		agent_id         TEXT NOT NULL DEFAULT '',
		exit_agent_id    TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_sessions_active_payer
		ON parking_sessions (payer_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS ix_parking_sessions_payer_entry
		ON parking_sessions (payer_id, entry_time DESC)`,
	`CREATE TABLE IF NOT EXISTS rate_policies (
		id                      TEXT PRIMARY KEY,
		lot_id                  TEXT NOT NULL,
		rate_type               TEXT NOT NULL,
		price_per_hour          DOUBLE PRECISION NOT NULL,
		premium_price_per_hour  DOUBLE PRECISION NOT NULL DEFAULT 0,
		business_price_per_hour DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_daily_price         DOUBLE PRECISION NOT NULL DEFAULT 0,
		active                  BOOLEAN NOT NULL DEFAULT false,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_rate_policies_active
		ON rate_policies (lot_id, rate_type) WHERE active`,
	`CREATE TABLE IF NOT EXISTS charge_records (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL UNIQUE REFERENCES parking_sessions(id),
		payer_id          TEXT NOT NULL,
		lot_id            TEXT NOT NULL,
		rate_type         TEXT NOT NULL,
		policy_id         TEXT NOT NULL,
		entry_time        TIMESTAMPTZ NOT NULL,
		duration_minutes  BIGINT NOT NULL,
		tier              TEXT NOT NULL,
		amount            DOUBLE PRECISION NOT NULL,
		discount          DOUBLE PRECISION NOT NULL DEFAULT 0,
		paid              BOOLEAN NOT NULL DEFAULT false,
		payment_method    TEXT NOT NULL DEFAULT '',
		paid_at           TIMESTAMPTZ,
		overdue           BOOLEAN NOT NULL DEFAULT false,
		overdue_surcharge DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_charge_records_payer_entry
		ON charge_records (payer_id, entry_time)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id                       TEXT PRIMARY KEY,
		payer_id                 TEXT NOT NULL,
		period_year              INT NOT NULL,
		period_month             INT NOT NULL,
		charge_ids               TEXT[] NOT NULL DEFAULT '{}',
		total_sessions           INT NOT NULL DEFAULT 0,
		total_duration_minutes   BIGINT NOT NULL DEFAULT 0,
		total_charges            DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_overdue_surcharges DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_discounts          DOUBLE PRECISION NOT NULL DEFAULT 0,
		amount_paid              DOUBLE PRECISION NOT NULL DEFAULT 0,
		balance_due              DOUBLE PRECISION NOT NULL DEFAULT 0,
		overdue                  BOOLEAN NOT NULL DEFAULT false,
		status                   TEXT NOT NULL,
		generated_at             TIMESTAMPTZ NOT NULL,
		updated_at               TIMESTAMPTZ NOT NULL,
		UNIQUE (payer_id, period_year, period_month)
	)`,
	`CREATE TABLE IF NOT EXISTS unpriced_sessions (
		id         BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		payer_id   TEXT NOT NULL,
		lot_id     TEXT NOT NULL,
		rate_type  TEXT NOT NULL,
		reason     TEXT NOT NULL,
		resolved   BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
