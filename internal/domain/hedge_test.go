package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupConfig() GroupConfig {
	return GroupConfig{MinEdge: 0.03, MinConfidence: 0.6, MinStake: 1}
}

func TestSizeGroup_StandardEntry(t *testing.T) {
	plan := SizeGroup(groupConfig(), []GroupOutcome{{
		MarketID:       "mkt-1",
		Probability:    0.45,
		Confidence:     70,
		Price:          0.38,
		ProposedStake:  100,
		Rationale:      "frontrunner consolidating support",
		EntrySuggested: true,
	}})

	require.Len(t, plan.Entries, 1)
	e := plan.Entries[0]
	assert.True(t, e.Entered)
	assert.False(t, e.Hedge)
	assert.InDelta(t, 0.07, e.Edge, 1e-9)
	// EV = 0.45×(100/0.38) − 0.55×100
	assert.InDelta(t, 0.45*(100/0.38)-0.55*100, e.ExpectedValue, 1e-9)
	assert.Equal(t, 1, plan.EnteredCount)
	assert.InDelta(t, 100.0, e.PortfolioPct, 1e-9)
}

func TestSizeGroup_HedgeEntryRelaxesConfidence(t *testing.T) {
	// Double the edge threshold unlocks entry at half the confidence floor.
	plan := SizeGroup(groupConfig(), []GroupOutcome{{
		MarketID:       "mkt-2",
		Probability:    0.30,
		Confidence:     35, // 0.35, below 0.6 but above 0.3
		Price:          0.20,
		ProposedStake:  50,
		Rationale:      "second-place contender gaining",
		EntrySuggested: true,
	}})

	e := plan.Entries[0]
	assert.True(t, e.Entered)
	assert.True(t, e.Hedge)
}

func TestSizeGroup_LongshotWithCatalyst(t *testing.T) {
	plan := SizeGroup(groupConfig(), []GroupOutcome{{
		MarketID:       "mkt-3",
		Probability:    0.08,
		Confidence:     60,
		Price:          0.03,
		ProposedStake:  25,
		Rationale:      "polling surge after last debate",
		EntrySuggested: true,
	}})

	e := plan.Entries[0]
	assert.True(t, e.Entered, "catalyst-backed longshot should be eligible: %s", e.Reason)
}

func TestSizeGroup_LongshotWithoutCatalystRejected(t *testing.T) {
	plan := SizeGroup(groupConfig(), []GroupOutcome{{
		MarketID:       "mkt-4",
		Probability:    0.08,
		Confidence:     60,
		Price:          0.03,
		ProposedStake:  25,
		Rationale:      "pure math edge",
		EntrySuggested: true,
	}})

	e := plan.Entries[0]
	assert.False(t, e.Entered)
	assert.Equal(t, "no concrete catalyst found", e.Reason)
}

func TestSizeGroup_LongshotLowConfidenceRejected(t *testing.T) {
	plan := SizeGroup(groupConfig(), []GroupOutcome{{
		MarketID:       "mkt-5",
		Probability:    0.08,
		Confidence:     40,
		Price:          0.03,
		ProposedStake:  25,
		Rationale:      "polling surge after last debate",
		EntrySuggested: true,
	}})

	assert.False(t, plan.Entries[0].Entered)
	assert.Contains(t, plan.Entries[0].Reason, "confidence")
}

func TestSizeGroup_NotSuggestedSkipped(t *testing.T) {
	plan := SizeGroup(groupConfig(), []GroupOutcome{{
		MarketID:       "mkt-6",
		Probability:    0.45,
		Confidence:     70,
		Price:          0.38,
		ProposedStake:  100,
		EntrySuggested: false,
	}})

	assert.False(t, plan.Entries[0].Entered)
	assert.Equal(t, 0, plan.EnteredCount)
}

func TestSizeGroup_Aggregates(t *testing.T) {
	plan := SizeGroup(groupConfig(), []GroupOutcome{
		{MarketID: "a", Probability: 0.50, Confidence: 80, Price: 0.40, ProposedStake: 150, EntrySuggested: true},
		{MarketID: "b", Probability: 0.30, Confidence: 70, Price: 0.25, ProposedStake: 50, EntrySuggested: true},
		{MarketID: "c", Probability: 0.10, Confidence: 70, Price: 0.12, ProposedStake: 40, EntrySuggested: true}, // negative edge
	})

	assert.Equal(t, 2, plan.EnteredCount)
	assert.InDelta(t, 200.0, plan.TotalStake, 1e-9)
	assert.InDelta(t, 75.0, plan.Entries[0].PortfolioPct, 1e-9)
	assert.InDelta(t, 25.0, plan.Entries[1].PortfolioPct, 1e-9)
	assert.Greater(t, plan.CombinedEV, 0.0)
}

func TestApplyGroupGate_ScalesLegsProportionally(t *testing.T) {
	plan := SizeGroup(groupConfig(), []GroupOutcome{
		{MarketID: "a", Probability: 0.50, Confidence: 80, Price: 0.40, ProposedStake: 300, EntrySuggested: true},
		{MarketID: "b", Probability: 0.40, Confidence: 80, Price: 0.30, ProposedStake: 100, EntrySuggested: true},
	})
	require.InDelta(t, 400.0, plan.TotalStake, 1e-9)

	gated := ApplyGroupGate(plan, groupConfig(), GateInput{
		AvailableBalance:      250,
		CurrentExposure:       0,
		MaxPositionPct:        1,
		CapitalUtilizationPct: 0.80,
	})

	// max spendable = 200 → half of the recommended 400
	assert.InDelta(t, 200.0, gated.TotalStake, 1e-9)
	assert.InDelta(t, 150.0, gated.Entries[0].Stake, 1e-9)
	assert.InDelta(t, 50.0, gated.Entries[1].Stake, 1e-9)
	assert.Equal(t, 2, gated.EnteredCount)
}

func TestApplyGroupGate_DropsDustLegs(t *testing.T) {
	cfg := groupConfig()
	cfg.MinStake = 40
	plan := SizeGroup(cfg, []GroupOutcome{
		{MarketID: "a", Probability: 0.50, Confidence: 80, Price: 0.40, ProposedStake: 300, EntrySuggested: true},
		{MarketID: "b", Probability: 0.40, Confidence: 80, Price: 0.30, ProposedStake: 100, EntrySuggested: true},
	})

	gated := ApplyGroupGate(plan, cfg, GateInput{
		AvailableBalance:      250,
		MaxPositionPct:        1,
		CapitalUtilizationPct: 0.80,
	})

	// b scales to 50×... → 100×0.5 = 50 ≥ 40 stays; tighten further
	gated = ApplyGroupGate(gated, cfg, GateInput{
		AvailableBalance:      80,
		MaxPositionPct:        1,
		CapitalUtilizationPct: 0.80,
	})

	assert.Equal(t, 1, gated.EnteredCount)
	for _, e := range gated.Entries {
		if e.Outcome.MarketID == "b" {
			assert.False(t, e.Entered)
			assert.Contains(t, e.Reason, "minimum")
		}
	}
}
