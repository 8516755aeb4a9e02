package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks a payment event that is rejected before any store
// access. It is the only error the pipeline returns to its caller directly.
var ErrInvalidInput = errors.New("invalid payment event")

var validate = validator.New()

// PaymentEvent is one mobile-money notification. Events are immutable once
// received and are retained for audit.
type PaymentEvent struct {
	ExternalRef string          `json:"external_ref" validate:"required"`
	TenantID    string          `json:"tenant_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	PayerPhone  string          `json:"payer_phone" validate:"required"`
	OccurredAt  time.Time       `json:"occurred_at" validate:"required"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// Validate rejects malformed events (missing tenant or reference,
// non-positive amount) with ErrInvalidInput.
func (e *PaymentEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidInput, e.Amount)
	}
	return nil
}
