package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReconciliationState string

const (
	StateOpen      ReconciliationState = "open"
	StateMatched   ReconciliationState = "matched"
	StateAmbiguous ReconciliationState = "ambiguous"
)

// CollectionRecord is fleet revenue expected to be collected. Records are
// created by the surrounding CRUD layer; this service only moves their
// reconciliation state. A record leaves "open" at most once per direction:
// open -> matched is final, open -> ambiguous waits for a manual reset.
type CollectionRecord struct {
	ID                string              `json:"id"`
	TenantID          string              `json:"tenant_id"`
	DriverID          string              `json:"driver_id"`
	VehicleID         string              `json:"vehicle_id"`
	Amount            decimal.Decimal     `json:"amount"`
	RecordedAt        time.Time           `json:"recorded_at"`
	State             ReconciliationState `json:"reconciliation_state"`
	MatchedPaymentRef *string             `json:"matched_payment_ref,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}
