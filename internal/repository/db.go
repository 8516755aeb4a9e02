package repository

import (
	"database/sql"
	"fmt"
)

// InitSchema ensures all tables used by the reconciliation service exist.
// Collections are normally created by the surrounding CRUD application; the
// table is created here too so the service can run standalone in dev/test.
func InitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			driver_id VARCHAR(64) NOT NULL,
			vehicle_id VARCHAR(64) NOT NULL,
			amount NUMERIC(14,2) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			reconciliation_state VARCHAR(20) NOT NULL DEFAULT 'open',
			matched_payment_ref VARCHAR(128),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_collections_open_window
			ON collections(tenant_id, recorded_at)
			WHERE reconciliation_state = 'open'`,

		`CREATE TABLE IF NOT EXISTS payment_events (
			external_ref VARCHAR(128) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			amount NUMERIC(14,2) NOT NULL,
			payer_phone VARCHAR(32) NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_ledger (
			id VARCHAR(64) PRIMARY KEY,
			external_ref VARCHAR(128) NOT NULL,
			tenant_id VARCHAR(64) NOT NULL,
			collection_id VARCHAR(64),
			status VARCHAR(20) NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL,
			decided_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_external_ref
			ON reconciliation_ledger(external_ref, decided_at DESC)`,

		`CREATE TABLE IF NOT EXISTS tenant_settings (
			tenant_id VARCHAR(64) PRIMARY KEY,
			accept_threshold DOUBLE PRECISION,
			ambiguity_margin DOUBLE PRECISION,
			window_before_minutes INT,
			window_after_minutes INT
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
