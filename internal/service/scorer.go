package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawafleet/collection-reconciler/internal/interfaces"
	"github.com/sawafleet/collection-reconciler/internal/models"
	"github.com/sawafleet/collection-reconciler/internal/phone"
)

// Signal weights, fixed and versioned: changing them changes every verdict,
// so they are code, not configuration.
const (
	weightAmount   = 0.5
	weightIdentity = 0.35
	weightTime     = 0.15
)

// Neutral identity value when the tenant has no phone on file for the
// driver: missing data is neither penalized nor rewarded.
const identityNeutral = 0.5

// Scorer computes the confidence that a payment event settles a candidate
// collection. Scoring is fully deterministic given the same inputs and the
// same directory answers.
type Scorer struct {
	directory   interfaces.DriverDirectory
	phoneRegion string
}

func NewScorer(directory interfaces.DriverDirectory, phoneRegion string) *Scorer {
	return &Scorer{directory: directory, phoneRegion: phoneRegion}
}

// Score returns the weighted sum of the amount, identity, and time-proximity
// signals. The only error path is a directory transport failure; an unknown
// driver scores neutral instead.
func (s *Scorer) Score(ctx context.Context, event *models.PaymentEvent, cand *models.CollectionRecord, tuning models.ResolutionTuning) (models.ScoreResult, error) {
	identity, err := s.identitySignal(ctx, event, cand)
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("identity signal for collection %s: %w", cand.ID, err)
	}

	breakdown := models.ScoreBreakdown{
		Amount:        amountSignal(event.Amount, cand.Amount, tuning),
		Identity:      identity,
		TimeProximity: timeSignal(event.OccurredAt, cand.RecordedAt, tuning),
	}

	value := weightAmount*breakdown.Amount +
		weightIdentity*breakdown.Identity +
		weightTime*breakdown.TimeProximity

	return models.ScoreResult{Value: value, Breakdown: breakdown}, nil
}

// amountSignal is 1.0 on an exact amount and decays linearly to 0 at the
// tolerance: the larger of a percentage of the expected amount and a fixed
// floor, so small collections keep a workable band.
func amountSignal(paid, expected decimal.Decimal, tuning models.ResolutionTuning) float64 {
	diff := paid.Sub(expected).Abs()
	if diff.IsZero() {
		return 1.0
	}

	tolerance := expected.Mul(decimal.NewFromFloat(tuning.AmountTolerancePct))
	if tolerance.LessThan(tuning.AmountToleranceFloor) {
		tolerance = tuning.AmountToleranceFloor
	}
	if diff.GreaterThanOrEqual(tolerance) {
		return 0.0
	}
	return 1.0 - diff.Div(tolerance).InexactFloat64()
}

func (s *Scorer) identitySignal(ctx context.Context, event *models.PaymentEvent, cand *models.CollectionRecord) (float64, error) {
	onFile, err := s.directory.PhoneForDriver(ctx, cand.TenantID, cand.DriverID)
	if errors.Is(err, interfaces.ErrDriverNotFound) {
		return identityNeutral, nil
	}
	if err != nil {
		return 0, err
	}
	if phone.Equal(event.PayerPhone, onFile, s.phoneRegion) {
		return 1.0, nil
	}
	return 0.0, nil
}

// timeSignal is 1.0 at zero delta and decays linearly to 0 at the window
// edge. The window is asymmetric: collections are usually recorded before
// the payment settles, so the backward edge is the wider one.
func timeSignal(occurredAt, recordedAt time.Time, tuning models.ResolutionTuning) float64 {
	delta := occurredAt.Sub(recordedAt)

	edge := tuning.WindowBefore
	if delta < 0 {
		delta = -delta
		edge = tuning.WindowAfter
	}
	if edge <= 0 || delta >= edge {
		return 0.0
	}
	return 1.0 - float64(delta)/float64(edge)
}
