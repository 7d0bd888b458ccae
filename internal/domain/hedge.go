package domain

import (
	"regexp"
	"strings"
)

// longshotPrice marks the extreme-longshot band that needs substance beyond
// raw edge before entry.
const longshotPrice = 0.05

// catalystKeywords are the tokens a longshot's rationale must mention to
// count as a concrete, recent catalyst rather than a pure pricing artifact.
var catalystKeywords = []string{
	"poll", "polling", "surge", "momentum", "endorsement", "endorsed",
	"scandal", "announced", "announcement", "dropped out", "withdrew",
	"today", "yesterday", "this week", "last week", "recent",
}

// percentPattern matches explicit percentage markers ("38%", "+5 points").
var percentPattern = regexp.MustCompile(`\d+(\.\d+)?\s*(%|percent|points?)`)

// GroupOutcome is one leg of a multi-outcome event, as recommended by
// research. Confidence is on the research provider's native 0–100 scale.
type GroupOutcome struct {
	MarketID       string
	Question       string
	Probability    float64 // modeled probability of this outcome winning, [0,1]
	Confidence     float64 // 0–100
	Price          float64
	ProposedStake  float64
	Rationale      string
	EntrySuggested bool
}

// GroupConfig carries the entry thresholds for grouped events.
// MinConfidence is on the [0,1] scale shared with the single-market path.
type GroupConfig struct {
	MinEdge       float64
	MinConfidence float64
	MinStake      float64
}

// GroupEntry is the evaluated form of one leg.
type GroupEntry struct {
	Outcome       GroupOutcome
	Edge          float64
	ExpectedValue float64
	Stake         float64
	Hedge         bool // entered through the relaxed high-edge gate
	Entered       bool
	Reason        string // populated when not entered
	PortfolioPct  float64
}

// GroupPlan aggregates the entered legs of one event.
type GroupPlan struct {
	Entries      []GroupEntry
	CombinedEV   float64
	TotalStake   float64
	EnteredCount int
}

// SizeGroup evaluates every leg of a grouped event and classifies entries.
//
// A standard entry needs edge ≥ min_edge and confidence ≥ min_confidence. A
// hedge entry relaxes confidence to half the threshold when the edge is at
// least doubled: high-conviction asymmetric legs hedge the favorites. Extreme
// longshots additionally pass a substance filter: real confidence, a modeled
// probability that clears the price band, and a concrete catalyst named in
// the rationale.
func SizeGroup(cfg GroupConfig, outcomes []GroupOutcome) GroupPlan {
	plan := GroupPlan{Entries: make([]GroupEntry, 0, len(outcomes))}

	for _, out := range outcomes {
		entry := GroupEntry{
			Outcome: out,
			Edge:    out.Probability - out.Price,
			Stake:   out.ProposedStake,
		}
		entry.ExpectedValue = expectedValue(out.Probability, out.ProposedStake, out.Price)

		entry.Entered, entry.Hedge, entry.Reason = classifyEntry(cfg, out, entry.Edge, entry.ExpectedValue)

		if entry.Entered {
			plan.EnteredCount++
			plan.CombinedEV += entry.ExpectedValue
			plan.TotalStake += entry.Stake
		}
		plan.Entries = append(plan.Entries, entry)
	}

	plan.recomputePcts()
	return plan
}

// ApplyGroupGate routes the plan's summed stake through the portfolio risk
// gate and scales every entered leg proportionally. Legs scaled under
// MinStake are dropped and the aggregates recomputed.
func ApplyGroupGate(plan GroupPlan, cfg GroupConfig, gate GateInput) GroupPlan {
	if plan.TotalStake <= 0 {
		return plan
	}

	gate.Recommended = plan.TotalStake
	res := ApplyRiskGate(gate)
	if !res.Clamped {
		return plan
	}

	scale := res.Stake / plan.TotalStake
	plan.CombinedEV = 0
	plan.TotalStake = 0
	plan.EnteredCount = 0

	for i := range plan.Entries {
		e := &plan.Entries[i]
		if !e.Entered {
			continue
		}
		e.Stake *= scale
		e.ExpectedValue = expectedValue(e.Outcome.Probability, e.Stake, e.Outcome.Price)
		if e.Stake < cfg.MinStake {
			e.Entered = false
			e.Reason = "stake below minimum after portfolio cap"
			continue
		}
		plan.EnteredCount++
		plan.CombinedEV += e.ExpectedValue
		plan.TotalStake += e.Stake
	}

	plan.recomputePcts()
	return plan
}

func (p *GroupPlan) recomputePcts() {
	for i := range p.Entries {
		e := &p.Entries[i]
		if e.Entered && p.TotalStake > 0 {
			e.PortfolioPct = e.Stake / p.TotalStake * 100
		} else {
			e.PortfolioPct = 0
		}
	}
}

func classifyEntry(cfg GroupConfig, out GroupOutcome, edge, ev float64) (entered, hedge bool, reason string) {
	if !out.EntrySuggested {
		return false, false, "not suggested by research"
	}
	if ev <= 0 {
		return false, false, "non-positive expected value"
	}

	confidence := out.Confidence / 100 // research reports 0–100

	if out.Price < longshotPrice {
		if ok, why := longshotHasSubstance(out); !ok {
			return false, false, why
		}
	}

	meetsEdge := edge >= cfg.MinEdge
	meetsConfidence := confidence >= cfg.MinConfidence

	switch {
	case meetsEdge && meetsConfidence:
		return true, false, ""
	case edge >= 2*cfg.MinEdge && confidence >= cfg.MinConfidence*0.5:
		return true, true, ""
	default:
		return false, false, "edge or confidence below entry thresholds"
	}
}

// longshotHasSubstance applies the extra filter for legs priced under 5¢:
// the rationale must name a concrete catalyst, not just a pricing gap.
func longshotHasSubstance(out GroupOutcome) (bool, string) {
	if out.Confidence < 50 {
		return false, "longshot confidence below 50"
	}
	if out.Probability < 0.05 {
		return false, "longshot modeled probability below 5%"
	}

	rationale := strings.ToLower(out.Rationale)
	for _, kw := range catalystKeywords {
		if strings.Contains(rationale, kw) {
			return true, ""
		}
	}
	if percentPattern.MatchString(rationale) {
		return true, ""
	}
	return false, "no concrete catalyst found"
}

// expectedValue is the EV of a binary contract paying $1/share.
func expectedValue(probability, stake, price float64) float64 {
	if price <= 0 {
		return 0
	}
	shares := stake / price
	return probability*shares - (1-probability)*stake
}
