package models

import "time"

type OutcomeStatus string

const (
	OutcomeMatched    OutcomeStatus = "matched"
	OutcomeNotMatched OutcomeStatus = "not_matched"
	OutcomeAmbiguous  OutcomeStatus = "ambiguous"
	OutcomeError      OutcomeStatus = "error"
)

// ReconciliationOutcome is one append-only audit record per processing
// attempt of a payment event, keyed by the event's external reference.
// A non-error outcome for a reference short-circuits any replay; an error
// outcome never blocks reprocessing.
type ReconciliationOutcome struct {
	ID           string        `json:"id"`
	ExternalRef  string        `json:"external_ref"`
	TenantID     string        `json:"tenant_id"`
	CollectionID *string       `json:"collection_id,omitempty"`
	Status       OutcomeStatus `json:"status"`
	Score        float64       `json:"score"`
	Reason       string        `json:"reason"`
	DecidedAt    time.Time     `json:"decided_at"`
}

// Final reports whether this outcome settles the external reference.
func (o *ReconciliationOutcome) Final() bool {
	return o.Status != OutcomeError
}
