package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sawafleet/collection-reconciler/internal/interfaces"
	"github.com/sawafleet/collection-reconciler/internal/models"
	"github.com/sawafleet/collection-reconciler/internal/telemetry"
)

// ErrInFlight means another delivery of the same external reference holds
// the processing lock right now. The caller should let the queue redeliver.
var ErrInFlight = errors.New("payment event is already being processed")

// EventLocker serializes concurrent deliveries of one external reference.
type EventLocker interface {
	TryLock(ctx context.Context, externalRef string) (bool, error)
	Unlock(ctx context.Context, externalRef string)
}

// OutcomePublisher announces decided outcomes to downstream consumers.
type OutcomePublisher interface {
	Publish(ctx context.Context, outcome *models.ReconciliationOutcome) error
}

// Resolver runs the reconciliation pipeline for one payment event: select
// candidates, score them, apply the threshold and ambiguity policy, commit
// the winning claim, and record the outcome in the ledger.
type Resolver struct {
	collections interfaces.CollectionStore
	events      interfaces.PaymentEventStore
	ledger      interfaces.LedgerStore
	settings    interfaces.TenantSettingsStore
	selector    *Selector
	scorer      *Scorer
	locker      EventLocker
	publisher   OutcomePublisher
	tuning      models.ResolutionTuning
}

// NewResolver wires the pipeline. settings, locker, and publisher may be nil
// (defaults apply, no lock, no publication).
func NewResolver(
	collections interfaces.CollectionStore,
	events interfaces.PaymentEventStore,
	ledger interfaces.LedgerStore,
	settings interfaces.TenantSettingsStore,
	directory interfaces.DriverDirectory,
	locker EventLocker,
	publisher OutcomePublisher,
	phoneRegion string,
	tuning models.ResolutionTuning,
) *Resolver {
	return &Resolver{
		collections: collections,
		events:      events,
		ledger:      ledger,
		settings:    settings,
		selector:    NewSelector(collections),
		scorer:      NewScorer(directory, phoneRegion),
		locker:      locker,
		publisher:   publisher,
		tuning:      tuning,
	}
}

// Reconcile processes one payment event end to end. It returns an error only
// for contract violations (ErrInvalidInput), a held lock (ErrInFlight), or a
// ledger that cannot be written; every infrastructure failure inside the
// pipeline is captured as an "error" outcome so the ingestion layer always
// has something recorded per event.
func (r *Resolver) Reconcile(ctx context.Context, event *models.PaymentEvent) (*models.ReconciliationOutcome, error) {
	start := time.Now()
	defer func() {
		telemetry.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	if err := event.Validate(); err != nil {
		return nil, err
	}

	// Idempotent replay: a prior non-error outcome settles the reference.
	prior, err := r.ledger.LatestByExternalRef(ctx, event.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup for %s: %w", event.ExternalRef, err)
	}
	if prior != nil && prior.Final() {
		telemetry.ReplaysTotal.Inc()
		telemetry.Logger.Info("Replay short-circuited by ledger",
			zap.String("external_ref", event.ExternalRef),
			zap.String("status", string(prior.Status)),
		)
		return prior, nil
	}

	if r.locker != nil {
		ok, err := r.locker.TryLock(ctx, event.ExternalRef)
		if err != nil {
			return nil, fmt.Errorf("acquire processing lock: %w", err)
		}
		if !ok {
			return nil, ErrInFlight
		}
		defer r.locker.Unlock(ctx, event.ExternalRef)
	}

	if r.events != nil {
		if err := r.events.Save(ctx, event); err != nil {
			return r.finishError(ctx, event, err)
		}
	}

	tuning := r.tuningFor(ctx, event.TenantID)

	candidates, err := r.selector.SelectCandidates(ctx, event, tuning)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			return nil, err
		}
		return r.finishError(ctx, event, err)
	}

	scored := make([]models.MatchCandidate, 0, len(candidates))
	for i := range candidates {
		result, err := r.scorer.Score(ctx, event, &candidates[i], tuning)
		if err != nil {
			return r.finishError(ctx, event, err)
		}
		scored = append(scored, models.MatchCandidate{Collection: candidates[i], Score: result})
	}

	return r.resolve(ctx, event, scored, tuning)
}

// resolve applies the decision policy and commits its side effect. Losing a
// matched claim to a concurrent reconciliation re-runs the policy with that
// candidate removed.
func (r *Resolver) resolve(ctx context.Context, event *models.PaymentEvent, scored []models.MatchCandidate, tuning models.ResolutionTuning) (*models.ReconciliationOutcome, error) {
	for {
		d := decide(scored, tuning)

		switch d.status {
		case models.OutcomeNotMatched:
			var score float64
			if d.best != nil {
				score = d.best.Score.Value
			}
			return r.finish(ctx, newOutcome(event, nil, models.OutcomeNotMatched, score, d.reason))

		case models.OutcomeAmbiguous:
			for i := range d.contenders {
				id := d.contenders[i].Collection.ID
				moved, err := r.collections.MarkAmbiguous(ctx, id)
				if err != nil {
					return r.finishError(ctx, event, fmt.Errorf("mark ambiguous %s: %w", id, err))
				}
				if !moved {
					// Another event claimed the record between scoring and
					// now; the ambiguity verdict for this payment stands.
					telemetry.Logger.Info("Contender no longer open",
						zap.String("collection_id", id),
						zap.String("external_ref", event.ExternalRef),
					)
				}
			}
			return r.finish(ctx, newOutcome(event, nil, models.OutcomeAmbiguous, d.best.Score.Value, d.reason))

		case models.OutcomeMatched:
			claimed, err := r.collections.ClaimMatched(ctx, d.best.Collection.ID, event.ExternalRef)
			if err != nil {
				return r.finishError(ctx, event, fmt.Errorf("claim collection %s: %w", d.best.Collection.ID, err))
			}
			if !claimed {
				// Lost the compare-and-swap. Recompute as if the candidate
				// were absent rather than reporting a match we do not own.
				telemetry.ClaimConflictsTotal.Inc()
				telemetry.Logger.Warn("Lost collection claim, recomputing",
					zap.String("collection_id", d.best.Collection.ID),
					zap.String("external_ref", event.ExternalRef),
				)
				scored = withoutCollection(scored, d.best.Collection.ID)
				continue
			}
			id := d.best.Collection.ID
			return r.finish(ctx, newOutcome(event, &id, models.OutcomeMatched, d.best.Score.Value, d.reason))
		}
	}
}

type decision struct {
	status     models.OutcomeStatus
	best       *models.MatchCandidate
	contenders []models.MatchCandidate
	reason     string
}

// decide is the pure policy: threshold, ambiguity margin, and tie handling.
// Exactly tied top scores always land in the ambiguous branch because the
// margin check covers a zero gap.
func decide(cands []models.MatchCandidate, tuning models.ResolutionTuning) decision {
	if len(cands) == 0 {
		return decision{
			status: models.OutcomeNotMatched,
			reason: "no open collections in window",
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score.Value != cands[j].Score.Value {
			return cands[i].Score.Value > cands[j].Score.Value
		}
		return cands[i].Collection.ID < cands[j].Collection.ID
	})

	best := cands[0]
	second := 0.0
	if len(cands) > 1 {
		second = cands[1].Score.Value
	}

	if best.Score.Value < tuning.AcceptThreshold {
		return decision{
			status: models.OutcomeNotMatched,
			best:   &best,
			reason: fmt.Sprintf("best score %.3f below accept threshold %.2f", best.Score.Value, tuning.AcceptThreshold),
		}
	}

	if best.Score.Value-second < tuning.AmbiguityMargin && second >= tuning.AcceptThreshold-tuning.AmbiguityMargin {
		var contenders []models.MatchCandidate
		for _, c := range cands {
			if best.Score.Value-c.Score.Value < tuning.AmbiguityMargin && c.Score.Value >= tuning.AcceptThreshold-tuning.AmbiguityMargin {
				contenders = append(contenders, c)
			}
		}
		return decision{
			status:     models.OutcomeAmbiguous,
			best:       &best,
			contenders: contenders,
			reason: fmt.Sprintf("%d candidates within ambiguity margin %.2f of best score %.3f",
				len(contenders), tuning.AmbiguityMargin, best.Score.Value),
		}
	}

	return decision{
		status: models.OutcomeMatched,
		best:   &best,
		reason: fmt.Sprintf("matched collection %s (driver %s) with score %.3f",
			best.Collection.ID, best.Collection.DriverID, best.Score.Value),
	}
}

func (r *Resolver) tuningFor(ctx context.Context, tenantID string) models.ResolutionTuning {
	if r.settings == nil {
		return r.tuning
	}
	overrides, err := r.settings.Get(ctx, tenantID)
	if err != nil {
		telemetry.Logger.Warn("Tenant settings lookup failed, using defaults",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return r.tuning
	}
	return r.tuning.WithOverrides(overrides)
}

func (r *Resolver) finish(ctx context.Context, o *models.ReconciliationOutcome) (*models.ReconciliationOutcome, error) {
	if err := r.ledger.Append(ctx, o); err != nil {
		return o, fmt.Errorf("append outcome for %s: %w", o.ExternalRef, err)
	}
	telemetry.OutcomesTotal.WithLabelValues(string(o.Status)).Inc()

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, o); err != nil {
			telemetry.Logger.Error("Failed to publish outcome",
				zap.String("external_ref", o.ExternalRef),
				zap.Error(err),
			)
		}
	}

	telemetry.Logger.Info("Reconciliation decided",
		zap.String("external_ref", o.ExternalRef),
		zap.String("tenant_id", o.TenantID),
		zap.String("status", string(o.Status)),
		zap.Float64("score", o.Score),
	)
	return o, nil
}

func (r *Resolver) finishError(ctx context.Context, event *models.PaymentEvent, cause error) (*models.ReconciliationOutcome, error) {
	telemetry.Logger.Error("Reconciliation failed",
		zap.String("external_ref", event.ExternalRef),
		zap.String("tenant_id", event.TenantID),
		zap.Error(cause),
	)
	return r.finish(ctx, newOutcome(event, nil, models.OutcomeError, 0, cause.Error()))
}

func newOutcome(event *models.PaymentEvent, collectionID *string, status models.OutcomeStatus, score float64, reason string) *models.ReconciliationOutcome {
	return &models.ReconciliationOutcome{
		ID:           uuid.New().String(),
		ExternalRef:  event.ExternalRef,
		TenantID:     event.TenantID,
		CollectionID: collectionID,
		Status:       status,
		Score:        score,
		Reason:       reason,
		DecidedAt:    time.Now().UTC(),
	}
}

func withoutCollection(cands []models.MatchCandidate, collectionID string) []models.MatchCandidate {
	out := cands[:0]
	for _, c := range cands {
		if c.Collection.ID != collectionID {
			out = append(out, c)
		}
	}
	return out
}
