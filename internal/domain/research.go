package domain

import "time"

// ResearchEstimate is the probabilistic output of an external research run.
// Read-only input to the decision engine; persisted whether or not it yields
// a proposal.
type ResearchEstimate struct {
	ID             int64
	MarketID       string
	ProbabilityYes float64 // modeled probability of the yes side, in [0,1]
	Confidence     float64 // researcher's self-assessed confidence, in [0,1]
	Rationale      string
	Citations      []string
	Rounds         int
	CreatedAt      time.Time
}

// ProbabilityFor returns the modeled probability for the given side.
func (r ResearchEstimate) ProbabilityFor(side Side) float64 {
	if side == SideYes {
		return r.ProbabilityYes
	}
	return 1 - r.ProbabilityYes
}
