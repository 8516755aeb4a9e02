package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sawafleet/collection-reconciler/internal/models"
)

// PostgresPaymentEventStore retains every received payment event. Events are
// immutable; re-saving the same external reference is a no-op.
type PostgresPaymentEventStore struct {
	db *sql.DB
}

func NewPostgresPaymentEventStore(db *sql.DB) *PostgresPaymentEventStore {
	return &PostgresPaymentEventStore{db: db}
}

func (s *PostgresPaymentEventStore) Save(ctx context.Context, e *models.PaymentEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_events (external_ref, tenant_id, amount, payer_phone, occurred_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_ref) DO NOTHING
	`, e.ExternalRef, e.TenantID, e.Amount, e.PayerPhone, e.OccurredAt, e.ReceivedAt)
	if err != nil {
		return fmt.Errorf("save payment event %s: %w", e.ExternalRef, err)
	}
	return nil
}

func (s *PostgresPaymentEventStore) GetByExternalRef(ctx context.Context, externalRef string) (*models.PaymentEvent, error) {
	var e models.PaymentEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT external_ref, tenant_id, amount, payer_phone, occurred_at, received_at
		FROM payment_events WHERE external_ref = $1
	`, externalRef).Scan(&e.ExternalRef, &e.TenantID, &e.Amount, &e.PayerPhone, &e.OccurredAt, &e.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment event %s: %w", externalRef, err)
	}
	return &e, nil
}
