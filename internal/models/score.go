package models

// ScoreBreakdown holds the individual signal values, each in [0,1], before
// weighting.
type ScoreBreakdown struct {
	Amount        float64 `json:"amount"`
	Identity      float64 `json:"identity"`
	TimeProximity float64 `json:"time_proximity"`
}

// ScoreResult is the weighted confidence that a payment settles a candidate.
type ScoreResult struct {
	Value     float64        `json:"value"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// MatchCandidate pairs a collection record with its score for one payment
// event. Candidates are transient and never persisted.
type MatchCandidate struct {
	Collection CollectionRecord
	Score      ScoreResult
}
