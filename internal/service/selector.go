package service

import (
	"context"
	"fmt"

	"github.com/sawafleet/collection-reconciler/internal/interfaces"
	"github.com/sawafleet/collection-reconciler/internal/models"
)

// Selector retrieves the open collections a payment event could plausibly
// settle: same tenant, recorded inside the configured time window around the
// payment. Read-only; an empty result is a normal no-match path.
type Selector struct {
	collections interfaces.CollectionStore
}

func NewSelector(collections interfaces.CollectionStore) *Selector {
	return &Selector{collections: collections}
}

func (s *Selector) SelectCandidates(ctx context.Context, event *models.PaymentEvent, tuning models.ResolutionTuning) ([]models.CollectionRecord, error) {
	if event.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", models.ErrInvalidInput)
	}

	from := event.OccurredAt.Add(-tuning.WindowBefore)
	to := event.OccurredAt.Add(tuning.WindowAfter)

	candidates, err := s.collections.OpenInWindow(ctx, event.TenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	return candidates, nil
}
