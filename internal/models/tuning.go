package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResolutionTuning holds the knobs of the matching pipeline. Defaults come
// from configuration; individual tenants may override a subset through
// TenantSettings.
type ResolutionTuning struct {
	AcceptThreshold      float64
	AmbiguityMargin      float64
	WindowBefore         time.Duration
	WindowAfter          time.Duration
	AmountTolerancePct   float64
	AmountToleranceFloor decimal.Decimal
	LookupTimeout        time.Duration
}

// DefaultTuning returns the stock pipeline settings.
func DefaultTuning() ResolutionTuning {
	return ResolutionTuning{
		AcceptThreshold:      0.7,
		AmbiguityMargin:      0.1,
		WindowBefore:         2 * time.Hour,
		WindowAfter:          30 * time.Minute,
		AmountTolerancePct:   0.01,
		AmountToleranceFloor: decimal.NewFromInt(1),
		LookupTimeout:        5 * time.Second,
	}
}

// TenantSettings carries per-tenant overrides; nil fields keep the default.
type TenantSettings struct {
	TenantID        string
	AcceptThreshold *float64
	AmbiguityMargin *float64
	WindowBefore    *time.Duration
	WindowAfter     *time.Duration
}

// WithOverrides returns a copy of the tuning with any non-nil tenant
// settings applied.
func (t ResolutionTuning) WithOverrides(s *TenantSettings) ResolutionTuning {
	if s == nil {
		return t
	}
	if s.AcceptThreshold != nil {
		t.AcceptThreshold = *s.AcceptThreshold
	}
	if s.AmbiguityMargin != nil {
		t.AmbiguityMargin = *s.AmbiguityMargin
	}
	if s.WindowBefore != nil {
		t.WindowBefore = *s.WindowBefore
	}
	if s.WindowAfter != nil {
		t.WindowAfter = *s.WindowAfter
	}
	return t
}
