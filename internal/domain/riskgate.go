package domain

import (
	"fmt"
	"math"
)

// GateInput carries the portfolio-level limits checked before any entry.
// AvailableBalance is already net of the gas/fee reserve.
type GateInput struct {
	Recommended           float64
	AvailableBalance      float64
	Reserve               float64
	CurrentExposure       float64 // sum of open-position stakes
	MaxPositionPct        float64
	CapitalUtilizationPct float64
}

// GateResult is the clamped, actionable stake plus a machine-readable
// explanation when the recommendation was cut.
type GateResult struct {
	Stake        float64
	MaxPosition  float64 // total_portfolio × max_position_pct
	MaxSpendable float64 // available_balance × capital_utilization_pct
	Clamped      bool
	Reason       string
}

// ApplyRiskGate clamps a recommended stake to the tightest of the position
// cap, the capital-utilization cap, and the available balance.
//
//	total_portfolio = available + reserve + exposure
//	actual          = max(0, min(recommended, max_position, max_spendable, available))
func ApplyRiskGate(in GateInput) GateResult {
	totalPortfolio := in.AvailableBalance + in.Reserve + in.CurrentExposure
	maxPosition := totalPortfolio * in.MaxPositionPct
	maxSpendable := in.AvailableBalance * in.CapitalUtilizationPct

	actual := math.Min(in.Recommended, maxPosition)
	actual = math.Min(actual, maxSpendable)
	actual = math.Min(actual, in.AvailableBalance)
	actual = math.Max(actual, 0)

	res := GateResult{
		Stake:        actual,
		MaxPosition:  maxPosition,
		MaxSpendable: maxSpendable,
	}
	if actual < in.Recommended {
		res.Clamped = true
		res.Reason = fmt.Sprintf(
			"recommended $%.2f capped to $%.2f (max_position $%.2f, max_spendable $%.2f, balance $%.2f)",
			in.Recommended, actual, maxPosition, maxSpendable, in.AvailableBalance,
		)
	}
	return res
}
