package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sawafleet/collection-reconciler/internal/models"
)

// PostgresLedgerStore implements interfaces.LedgerStore. The ledger is
// append-only: outcomes are never updated or deleted.
type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

func (s *PostgresLedgerStore) Append(ctx context.Context, o *models.ReconciliationOutcome) error {
	var collectionID sql.NullString
	if o.CollectionID != nil {
		collectionID = sql.NullString{String: *o.CollectionID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_ledger
		(id, external_ref, tenant_id, collection_id, status, score, reason, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.ExternalRef, o.TenantID, collectionID, string(o.Status), o.Score, o.Reason, o.DecidedAt)
	if err != nil {
		return fmt.Errorf("append outcome %s: %w", o.ExternalRef, err)
	}
	return nil
}

func (s *PostgresLedgerStore) LatestByExternalRef(ctx context.Context, externalRef string) (*models.ReconciliationOutcome, error) {
	var o models.ReconciliationOutcome
	var collectionID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_ref, tenant_id, collection_id, status, score, reason, decided_at
		FROM reconciliation_ledger
		WHERE external_ref = $1
		ORDER BY decided_at DESC, id DESC
		LIMIT 1
	`, externalRef).Scan(
		&o.ID, &o.ExternalRef, &o.TenantID, &collectionID, &o.Status, &o.Score, &o.Reason, &o.DecidedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup outcome %s: %w", externalRef, err)
	}
	if collectionID.Valid {
		o.CollectionID = &collectionID.String
	}
	return &o, nil
}
