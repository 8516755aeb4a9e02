package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawafleet/collection-reconciler/internal/models"
)

var paymentAt = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func testEvent(ref string) *models.PaymentEvent {
	return &models.PaymentEvent{
		ExternalRef: ref,
		TenantID:    "tenant-1",
		Amount:      decimal.NewFromInt(1500),
		PayerPhone:  "+254712345678",
		OccurredAt:  paymentAt,
		ReceivedAt:  paymentAt.Add(time.Second),
	}
}

func testCollection(id, driverID string, amount int64, recordedAt time.Time) models.CollectionRecord {
	return models.CollectionRecord{
		ID:         id,
		TenantID:   "tenant-1",
		DriverID:   driverID,
		VehicleID:  "KDA-001X",
		Amount:     decimal.NewFromInt(amount),
		RecordedAt: recordedAt,
		State:      models.StateOpen,
	}
}

type resolverEnv struct {
	store     *fakeCollectionStore
	directory *fakeDirectory
	ledger    *fakeLedger
	events    *fakeEventStore
	publisher *fakePublisher
	resolver  *Resolver
}

func newResolverEnv(tuning models.ResolutionTuning, store *fakeCollectionStore, dir *fakeDirectory) *resolverEnv {
	env := &resolverEnv{
		store:     store,
		directory: dir,
		ledger:    &fakeLedger{},
		events:    &fakeEventStore{},
		publisher: &fakePublisher{},
	}
	env.resolver = NewResolver(store, env.events, env.ledger, nil, dir, nil, env.publisher, "KE", tuning)
	return env
}

func driverXDirectory() *fakeDirectory {
	return &fakeDirectory{phones: map[string]string{"driver-x": "+254712345678"}}
}

func TestReconcile_SingleCleanMatch(t *testing.T) {
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, paymentAt.Add(-5*time.Minute)),
	)
	env := newResolverEnv(models.DefaultTuning(), store, driverXDirectory())

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-A"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if outcome.Status != models.OutcomeMatched {
		t.Fatalf("status = %s, want matched (reason: %s)", outcome.Status, outcome.Reason)
	}
	if outcome.Score < 0.9 {
		t.Errorf("score = %v, want >= 0.9", outcome.Score)
	}
	if outcome.CollectionID == nil || *outcome.CollectionID != "col-1" {
		t.Errorf("collection id = %v, want col-1", outcome.CollectionID)
	}
	if got := store.state("col-1"); got != models.StateMatched {
		t.Errorf("collection state = %s, want matched", got)
	}
	rec, _ := store.GetByID(context.Background(), "col-1")
	if rec.MatchedPaymentRef == nil || *rec.MatchedPaymentRef != "TX-A" {
		t.Errorf("matched payment ref = %v, want TX-A", rec.MatchedPaymentRef)
	}
	if len(env.publisher.published) != 1 {
		t.Errorf("published %d outcomes, want 1", len(env.publisher.published))
	}
}

func TestReconcile_NoCandidatesInWindow(t *testing.T) {
	// The only collection sits well outside the window.
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, paymentAt.Add(-26*time.Hour)),
	)
	env := newResolverEnv(models.DefaultTuning(), store, driverXDirectory())

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-B"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeNotMatched {
		t.Fatalf("status = %s, want not_matched", outcome.Status)
	}
	if got := store.state("col-1"); got != models.StateOpen {
		t.Errorf("out-of-window collection state = %s, want open", got)
	}
}

func TestReconcile_IdentityBreaksAmountTie(t *testing.T) {
	recordedAt := paymentAt.Add(-10 * time.Minute)
	store := newFakeCollectionStore(
		testCollection("col-x", "driver-x", 1500, recordedAt),
		testCollection("col-y", "driver-y", 1500, recordedAt),
	)
	dir := &fakeDirectory{phones: map[string]string{
		"driver-x": "+254712345678",
		"driver-y": "+254700000000",
	}}
	env := newResolverEnv(models.DefaultTuning(), store, dir)

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-C"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeMatched {
		t.Fatalf("status = %s, want matched (reason: %s)", outcome.Status, outcome.Reason)
	}
	if *outcome.CollectionID != "col-x" {
		t.Errorf("matched %s, want col-x (identity signal should break the tie)", *outcome.CollectionID)
	}
	if got := store.state("col-y"); got != models.StateOpen {
		t.Errorf("losing candidate state = %s, want open", got)
	}
}

func TestReconcile_CloseAmountsAreAmbiguous(t *testing.T) {
	recordedAt := paymentAt.Add(-10 * time.Minute)
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, recordedAt),
		testCollection("col-2", "driver-x", 1490, recordedAt),
	)
	// Widen the amount tolerance so a 10 shilling gap stays inside the
	// ambiguity margin; the default 1% band would separate the two scores.
	tuning := models.DefaultTuning()
	tuning.AmountTolerancePct = 0.05

	env := newResolverEnv(tuning, store, driverXDirectory())

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-D"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeAmbiguous {
		t.Fatalf("status = %s, want ambiguous (reason: %s)", outcome.Status, outcome.Reason)
	}
	if outcome.CollectionID != nil {
		t.Errorf("ambiguous outcome must not pick a collection, got %v", *outcome.CollectionID)
	}
	for _, id := range []string{"col-1", "col-2"} {
		if got := store.state(id); got != models.StateAmbiguous {
			t.Errorf("contender %s state = %s, want ambiguous", id, got)
		}
	}
}

func TestReconcile_ExactTieIsAmbiguous(t *testing.T) {
	recordedAt := paymentAt.Add(-10 * time.Minute)
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, recordedAt),
		testCollection("col-2", "driver-x", 1500, recordedAt),
	)
	env := newResolverEnv(models.DefaultTuning(), store, driverXDirectory())

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-TIE"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeAmbiguous {
		t.Fatalf("status = %s, want ambiguous for exactly tied scores", outcome.Status)
	}
}

func TestReconcile_BelowThresholdIsNotMatched(t *testing.T) {
	// Wrong payer phone and a stale record: amount alone cannot clear the
	// accept threshold.
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-y", 1500, paymentAt.Add(-110*time.Minute)),
	)
	dir := &fakeDirectory{phones: map[string]string{"driver-y": "+254700000000"}}
	env := newResolverEnv(models.DefaultTuning(), store, dir)

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-LOW"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeNotMatched {
		t.Fatalf("status = %s, want not_matched (score %v)", outcome.Status, outcome.Score)
	}
	if got := store.state("col-1"); got != models.StateOpen {
		t.Errorf("collection state = %s, want open", got)
	}
}

func TestReconcile_ReplayReturnsPriorOutcome(t *testing.T) {
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, paymentAt.Add(-5*time.Minute)),
	)
	env := newResolverEnv(models.DefaultTuning(), store, driverXDirectory())

	first, err := env.resolver.Reconcile(context.Background(), testEvent("TX-A"))
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	second, err := env.resolver.Reconcile(context.Background(), testEvent("TX-A"))
	if err != nil {
		t.Fatalf("replay Reconcile: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("replay returned a new outcome %s, want stored %s", second.ID, first.ID)
	}
	if env.ledger.count() != 1 {
		t.Errorf("ledger has %d outcomes after replay, want 1", env.ledger.count())
	}
	if got := store.state("col-1"); got != models.StateMatched {
		t.Errorf("collection state after replay = %s, want matched", got)
	}
}

func TestReconcile_LostClaimFallsBackToRunnerUp(t *testing.T) {
	recordedAt := paymentAt.Add(-10 * time.Minute)
	store := newFakeCollectionStore(
		testCollection("col-best", "driver-x", 1500, recordedAt),
		testCollection("col-second", "driver-x", 1495, recordedAt),
	)
	store.stolenBy = map[string]string{"col-best": "TX-OTHER"}
	env := newResolverEnv(models.DefaultTuning(), store, driverXDirectory())

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-RACE"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeMatched {
		t.Fatalf("status = %s, want matched against runner-up (reason: %s)", outcome.Status, outcome.Reason)
	}
	if *outcome.CollectionID != "col-second" {
		t.Errorf("matched %s, want col-second", *outcome.CollectionID)
	}

	rec, _ := store.GetByID(context.Background(), "col-best")
	if rec.MatchedPaymentRef == nil || *rec.MatchedPaymentRef != "TX-OTHER" {
		t.Errorf("stolen record ref = %v, want TX-OTHER", rec.MatchedPaymentRef)
	}
}

func TestReconcile_LostClaimWithoutRunnerUp(t *testing.T) {
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, paymentAt.Add(-5*time.Minute)),
	)
	store.stolenBy = map[string]string{"col-1": "TX-OTHER"}
	env := newResolverEnv(models.DefaultTuning(), store, driverXDirectory())

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-RACE2"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeNotMatched {
		t.Fatalf("status = %s, want not_matched after losing the only claim", outcome.Status)
	}
}

func TestReconcile_DirectoryFailureYieldsErrorOutcome(t *testing.T) {
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, paymentAt.Add(-5*time.Minute)),
	)
	dir := &fakeDirectory{err: errors.New("nats: no responders available for request")}
	env := newResolverEnv(models.DefaultTuning(), store, dir)

	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-ERR"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeError {
		t.Fatalf("status = %s, want error", outcome.Status)
	}
	if got := store.state("col-1"); got != models.StateOpen {
		t.Errorf("collection state = %s, want open (untouched on error)", got)
	}

	// Error outcomes never block a retry: once the directory recovers the
	// same reference reconciles normally.
	dir.mu.Lock()
	dir.err = nil
	dir.phones = map[string]string{"driver-x": "+254712345678"}
	dir.mu.Unlock()

	retried, err := env.resolver.Reconcile(context.Background(), testEvent("TX-ERR"))
	if err != nil {
		t.Fatalf("retry Reconcile: %v", err)
	}
	if retried.Status != models.OutcomeMatched {
		t.Fatalf("retry status = %s, want matched", retried.Status)
	}
	if env.ledger.count() != 2 {
		t.Errorf("ledger has %d outcomes, want 2 (error then matched)", env.ledger.count())
	}
}

func TestReconcile_InvalidInput(t *testing.T) {
	env := newResolverEnv(models.DefaultTuning(), newFakeCollectionStore(), driverXDirectory())

	tests := []struct {
		name  string
		event *models.PaymentEvent
	}{
		{
			name: "missing tenant",
			event: &models.PaymentEvent{
				ExternalRef: "TX-1", Amount: decimal.NewFromInt(100),
				PayerPhone: "+254712345678", OccurredAt: paymentAt,
			},
		},
		{
			name: "zero amount",
			event: &models.PaymentEvent{
				ExternalRef: "TX-2", TenantID: "tenant-1",
				PayerPhone: "+254712345678", OccurredAt: paymentAt,
			},
		},
		{
			name: "negative amount",
			event: &models.PaymentEvent{
				ExternalRef: "TX-3", TenantID: "tenant-1", Amount: decimal.NewFromInt(-5),
				PayerPhone: "+254712345678", OccurredAt: paymentAt,
			},
		},
		{
			name: "missing external reference",
			event: &models.PaymentEvent{
				TenantID: "tenant-1", Amount: decimal.NewFromInt(100),
				PayerPhone: "+254712345678", OccurredAt: paymentAt,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.resolver.Reconcile(context.Background(), tt.event)
			if !errors.Is(err, models.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	if env.ledger.count() != 0 {
		t.Errorf("invalid events must not reach the ledger, found %d outcomes", env.ledger.count())
	}
}

func TestReconcile_HeldLockReturnsErrInFlight(t *testing.T) {
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, paymentAt.Add(-5*time.Minute)),
	)
	locker := &fakeLocker{}
	env := &resolverEnv{
		store:     store,
		directory: driverXDirectory(),
		ledger:    &fakeLedger{},
		events:    &fakeEventStore{},
		publisher: &fakePublisher{},
	}
	env.resolver = NewResolver(store, env.events, env.ledger, nil, env.directory, locker, env.publisher, "KE", models.DefaultTuning())

	if ok, _ := locker.TryLock(context.Background(), "TX-HELD"); !ok {
		t.Fatal("setup: could not pre-acquire lock")
	}

	_, err := env.resolver.Reconcile(context.Background(), testEvent("TX-HELD"))
	if !errors.Is(err, ErrInFlight) {
		t.Fatalf("err = %v, want ErrInFlight", err)
	}
}

func TestReconcile_TenantOverrideRaisesThreshold(t *testing.T) {
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, paymentAt.Add(-5*time.Minute)),
	)
	strict := 0.995
	settings := &fakeSettings{byTenant: map[string]*models.TenantSettings{
		"tenant-1": {TenantID: "tenant-1", AcceptThreshold: &strict},
	}}
	env := &resolverEnv{
		store:     store,
		directory: driverXDirectory(),
		ledger:    &fakeLedger{},
		events:    &fakeEventStore{},
		publisher: &fakePublisher{},
	}
	env.resolver = NewResolver(store, env.events, env.ledger, settings, env.directory, nil, env.publisher, "KE", models.DefaultTuning())

	// The clean-match score here is ~0.994, below the tenant's 0.995 bar.
	outcome, err := env.resolver.Reconcile(context.Background(), testEvent("TX-STRICT"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Status != models.OutcomeNotMatched {
		t.Fatalf("status = %s, want not_matched under tenant threshold", outcome.Status)
	}
}

func TestReconcile_ConcurrentEventsClaimAtMostOnce(t *testing.T) {
	store := newFakeCollectionStore(
		testCollection("col-1", "driver-x", 1500, paymentAt.Add(-5*time.Minute)),
	)
	env := newResolverEnv(models.DefaultTuning(), store, driverXDirectory())

	const n = 8
	outcomes := make([]*models.ReconciliationOutcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := env.resolver.Reconcile(context.Background(), testEvent(fmt.Sprintf("TX-%d", i)))
			if err != nil {
				t.Errorf("Reconcile TX-%d: %v", i, err)
				return
			}
			outcomes[i] = o
		}(i)
	}
	wg.Wait()

	matched := 0
	for _, o := range outcomes {
		if o != nil && o.Status == models.OutcomeMatched {
			matched++
		}
	}
	if matched != 1 {
		t.Fatalf("%d events matched the single collection, want exactly 1", matched)
	}
	if got := store.state("col-1"); got != models.StateMatched {
		t.Errorf("collection state = %s, want matched", got)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	tuning := models.DefaultTuning()
	build := func() []models.MatchCandidate {
		return []models.MatchCandidate{
			{Collection: models.CollectionRecord{ID: "a"}, Score: models.ScoreResult{Value: 0.82}},
			{Collection: models.CollectionRecord{ID: "b"}, Score: models.ScoreResult{Value: 0.95}},
			{Collection: models.CollectionRecord{ID: "c"}, Score: models.ScoreResult{Value: 0.60}},
		}
	}

	first := decide(build(), tuning)
	for i := 0; i < 20; i++ {
		again := decide(build(), tuning)
		if again.status != first.status || again.reason != first.reason {
			t.Fatalf("run %d: decision (%s, %q) differs from first (%s, %q)",
				i, again.status, again.reason, first.status, first.reason)
		}
	}
	if first.status != models.OutcomeMatched || first.best.Collection.ID != "b" {
		t.Fatalf("decision = %s/%s, want matched/b", first.status, first.best.Collection.ID)
	}
}
