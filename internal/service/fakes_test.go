package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/sawafleet/collection-reconciler/internal/interfaces"
	"github.com/sawafleet/collection-reconciler/internal/models"
)

type fakeDirectory struct {
	mu     sync.Mutex
	phones map[string]string // driverID -> phone on file
	err    error
	calls  int
}

func (d *fakeDirectory) PhoneForDriver(_ context.Context, _, driverID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	p, ok := d.phones[driverID]
	if !ok {
		return "", interfaces.ErrDriverNotFound
	}
	return p, nil
}

type fakeCollectionStore struct {
	mu      sync.Mutex
	records map[string]*models.CollectionRecord
	openErr error

	// stolenBy simulates a concurrent reconciliation winning the record
	// between scoring and commit: the first claim for the key fails and the
	// record flips to matched under the given reference.
	stolenBy map[string]string
}

func newFakeCollectionStore(records ...models.CollectionRecord) *fakeCollectionStore {
	s := &fakeCollectionStore{records: map[string]*models.CollectionRecord{}}
	for i := range records {
		rec := records[i]
		s.records[rec.ID] = &rec
	}
	return s
}

func (s *fakeCollectionStore) OpenInWindow(_ context.Context, tenantID string, from, to time.Time) ([]models.CollectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	var out []models.CollectionRecord
	for _, rec := range s.records {
		if rec.TenantID != tenantID || rec.State != models.StateOpen {
			continue
		}
		if rec.RecordedAt.Before(from) || rec.RecordedAt.After(to) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeCollectionStore) ClaimMatched(_ context.Context, collectionID, paymentRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collectionID]
	if !ok || rec.State != models.StateOpen {
		return false, nil
	}
	if thief, ok := s.stolenBy[collectionID]; ok {
		delete(s.stolenBy, collectionID)
		rec.State = models.StateMatched
		rec.MatchedPaymentRef = &thief
		return false, nil
	}
	rec.State = models.StateMatched
	rec.MatchedPaymentRef = &paymentRef
	return true, nil
}

func (s *fakeCollectionStore) MarkAmbiguous(_ context.Context, collectionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collectionID]
	if !ok || rec.State != models.StateOpen {
		return false, nil
	}
	rec.State = models.StateAmbiguous
	return true, nil
}

func (s *fakeCollectionStore) GetByID(_ context.Context, collectionID string) (*models.CollectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collectionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeCollectionStore) state(id string) models.ReconciliationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].State
}

type fakeLedger struct {
	mu       sync.Mutex
	outcomes []models.ReconciliationOutcome
}

func (l *fakeLedger) Append(_ context.Context, o *models.ReconciliationOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, *o)
	return nil
}

func (l *fakeLedger) LatestByExternalRef(_ context.Context, externalRef string) (*models.ReconciliationOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.outcomes) - 1; i >= 0; i-- {
		if l.outcomes[i].ExternalRef == externalRef {
			cp := l.outcomes[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outcomes)
}

type fakeEventStore struct {
	mu     sync.Mutex
	events map[string]models.PaymentEvent
}

func (s *fakeEventStore) Save(_ context.Context, e *models.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = map[string]models.PaymentEvent{}
	}
	if _, ok := s.events[e.ExternalRef]; !ok {
		s.events[e.ExternalRef] = *e
	}
	return nil
}

func (s *fakeEventStore) GetByExternalRef(_ context.Context, externalRef string) (*models.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[externalRef]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

type fakeSettings struct {
	byTenant map[string]*models.TenantSettings
}

func (s *fakeSettings) Get(_ context.Context, tenantID string) (*models.TenantSettings, error) {
	return s.byTenant[tenantID], nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []models.ReconciliationOutcome
}

func (p *fakePublisher) Publish(_ context.Context, o *models.ReconciliationOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, *o)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) TryLock(_ context.Context, ref string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[ref] {
		return false, nil
	}
	l.held[ref] = true
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, ref)
}
