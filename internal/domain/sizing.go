package domain

import (
	"fmt"
	"math"
)

// SizingPolicy selects the bankroll-fraction formula.
type SizingPolicy string

const (
	PolicyFlat        SizingPolicy = "flat"
	PolicyCappedKelly SizingPolicy = "capped-kelly"
)

// SizingConfig is the risk policy consumed by the position sizer.
type SizingConfig struct {
	Policy      SizingPolicy
	Bankroll    float64
	RiskBudget  float64 // flat policy: fraction of bankroll at full confidence
	MaxFraction float64 // capped-kelly: hard cap on the bankroll fraction
	MinStake    float64 // smallest tradeable unit; below it the sizing disqualifies
}

// RecommendStake converts confidence and ROI into a dollar stake under the
// configured policy.
//
//	flat:         fraction = risk_budget × confidence
//	capped-kelly: fraction = |clamp(roi, ±max_fraction)| × confidence
//
// The capped-kelly form degenerates to a magnitude clamp rather than the
// textbook Kelly fraction; this mirrors the original model and is kept as a
// documented simplification. The signed roi already reflects the chosen side,
// so only its magnitude sizes the position.
//
// A stake under MinStake is reported as a disqualification, never silently
// floored to zero.
func RecommendStake(cfg SizingConfig, confidence, roi float64) (float64, *Disqualification) {
	var fraction float64
	switch cfg.Policy {
	case PolicyCappedKelly:
		clamped := math.Max(math.Min(roi, cfg.MaxFraction), -cfg.MaxFraction)
		fraction = math.Min(math.Abs(clamped)*confidence, cfg.MaxFraction)
	default:
		fraction = cfg.RiskBudget * confidence
	}

	stake := cfg.Bankroll * math.Max(fraction, 0)

	if stake < cfg.MinStake {
		return 0, &Disqualification{
			Code: "stake",
			Reason: fmt.Sprintf("sized stake $%.2f below minimum tradeable $%.2f",
				stake, cfg.MinStake),
		}
	}
	return stake, nil
}
