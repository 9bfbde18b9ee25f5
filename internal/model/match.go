package model

// ScoreBreakdown reports which signals contributed to a candidate's score.
type ScoreBreakdown struct {
	NameScore    float64 `json:"nameScore"`
	AddressScore float64 `json:"addressScore"`
	TaxIDScore   float64 `json:"taxIdScore"`
	CityScore    float64 `json:"cityScore"`
}

// MatchCandidate is one scored invoice/project pairing. Candidates are
// ephemeral: they exist for the duration of a matching run and are never
// persisted.
type MatchCandidate struct {
	Project   Project
	Score     float64
	Reason    string
	Breakdown ScoreBreakdown
	// Degraded marks candidates scored by the deterministic fallback
	// after the primary scorer failed for this project.
	Degraded bool
}

// MatchDecision is the outcome of one matching run over an invoice.
type MatchDecision struct {
	Candidates   []MatchCandidate
	AutoAssigned bool
	Threshold    float64
	Reason       string
}

// Best returns the top-ranked candidate, or nil when there are none.
func (d *MatchDecision) Best() *MatchCandidate {
	if len(d.Candidates) == 0 {
		return nil
	}
	return &d.Candidates[0]
}
