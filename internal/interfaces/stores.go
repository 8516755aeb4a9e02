package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/sawafleet/collection-reconciler/internal/models"
)

// ErrDriverNotFound is returned by a DriverDirectory when the tenant has no
// phone number on file for the driver. It is a normal answer, not a
// transport failure: the scorer treats it as a neutral identity signal.
var ErrDriverNotFound = errors.New("driver not found")

// CollectionStore is the read/write surface over collection records.
type CollectionStore interface {
	// OpenInWindow returns all open collections for the tenant whose
	// recorded_at falls within [from, to].
	OpenInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]models.CollectionRecord, error)

	// ClaimMatched transitions a collection open -> matched and links the
	// payment reference. The update is conditional on the record still being
	// open; false means another reconciliation claimed it first.
	ClaimMatched(ctx context.Context, collectionID, paymentRef string) (bool, error)

	// MarkAmbiguous transitions a collection open -> ambiguous, conditional
	// on the record still being open.
	MarkAmbiguous(ctx context.Context, collectionID string) (bool, error)

	GetByID(ctx context.Context, collectionID string) (*models.CollectionRecord, error)
}

// DriverDirectory resolves a driver to the phone number the tenant has on
// file. Implementations must return ErrDriverNotFound for unknown drivers;
// any other error is treated as the directory being unreachable.
type DriverDirectory interface {
	PhoneForDriver(ctx context.Context, tenantID, driverID string) (string, error)
}

// LedgerStore is the append-only reconciliation audit trail.
type LedgerStore interface {
	Append(ctx context.Context, outcome *models.ReconciliationOutcome) error

	// LatestByExternalRef returns the most recent outcome for the external
	// reference, or nil when the reference has never been processed.
	LatestByExternalRef(ctx context.Context, externalRef string) (*models.ReconciliationOutcome, error)
}

// PaymentEventStore retains every received payment event for audit and for
// manual retries of errored reconciliations.
type PaymentEventStore interface {
	// Save persists the event; saving the same external reference twice is
	// a no-op.
	Save(ctx context.Context, event *models.PaymentEvent) error

	GetByExternalRef(ctx context.Context, externalRef string) (*models.PaymentEvent, error)
}

// TenantSettingsStore reads per-tenant tuning overrides. A nil result means
// the tenant runs on defaults.
type TenantSettingsStore interface {
	Get(ctx context.Context, tenantID string) (*models.TenantSettings, error)
}
