package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sawafleet/collection-reconciler/internal/models"
)

// PostgresCollectionStore implements interfaces.CollectionStore over the
// collections table shared with the fleet CRUD application.
type PostgresCollectionStore struct {
	db *sql.DB
}

func NewPostgresCollectionStore(db *sql.DB) *PostgresCollectionStore {
	return &PostgresCollectionStore{db: db}
}

func (s *PostgresCollectionStore) OpenInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]models.CollectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, driver_id, vehicle_id, amount, recorded_at,
		       reconciliation_state, matched_payment_ref, created_at, updated_at
		FROM collections
		WHERE tenant_id = $1
		  AND reconciliation_state = 'open'
		  AND recorded_at BETWEEN $2 AND $3
		ORDER BY recorded_at, id
	`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query open collections: %w", err)
	}
	defer rows.Close()

	var records []models.CollectionRecord
	for rows.Next() {
		rec, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *PostgresCollectionStore) ClaimMatched(ctx context.Context, collectionID, paymentRef string) (bool, error) {
	// Conditional update: the claim succeeds only if the record is still
	// open at write time. Two racing reconciliations can never both win.
	result, err := s.db.ExecContext(ctx, `
		UPDATE collections
		SET reconciliation_state = 'matched', matched_payment_ref = $1, updated_at = NOW()
		WHERE id = $2 AND reconciliation_state = 'open'
	`, paymentRef, collectionID)
	if err != nil {
		return false, fmt.Errorf("claim collection %s: %w", collectionID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *PostgresCollectionStore) MarkAmbiguous(ctx context.Context, collectionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collections
		SET reconciliation_state = 'ambiguous', updated_at = NOW()
		WHERE id = $1 AND reconciliation_state = 'open'
	`, collectionID)
	if err != nil {
		return false, fmt.Errorf("mark collection %s ambiguous: %w", collectionID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *PostgresCollectionStore) GetByID(ctx context.Context, collectionID string) (*models.CollectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, driver_id, vehicle_id, amount, recorded_at,
		       reconciliation_state, matched_payment_ref, created_at, updated_at
		FROM collections WHERE id = $1
	`, collectionID)
	return scanCollection(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*models.CollectionRecord, error) {
	var rec models.CollectionRecord
	var matchedRef sql.NullString
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.DriverID, &rec.VehicleID, &rec.Amount,
		&rec.RecordedAt, &rec.State, &matchedRef, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if matchedRef.Valid {
		rec.MatchedPaymentRef = &matchedRef.String
	}
	return &rec, nil
}
