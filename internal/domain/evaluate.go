package domain

import "time"

// minDaysToExpiry floors the annualization horizon so already-resolved
// markets don't blow up the APR division.
const minDaysToExpiry = 0.01

// Evaluation is the derived edge report for one market. Ephemeral; persisted
// only as fields on a proposal.
type Evaluation struct {
	Edge         float64 // modeled prob of chosen side minus its price (signed)
	ROI          float64
	APR          float64
	Side         Side
	DaysToExpiry float64
}

// ROIForPrice returns (modeledProb - price) / price, or 0 for a non-positive
// price.
func ROIForPrice(modeledProb, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return (modeledProb - price) / price
}

// AnnualizedAPR linearly annualizes an ROI over the days remaining.
// Deliberately not compounding: the original model treats each market as a
// one-shot hold to resolution.
func AnnualizedAPR(roi, daysToExpiry float64) float64 {
	if daysToExpiry <= 0 {
		return 0
	}
	return roi * (365.0 / daysToExpiry)
}

// SelectSide picks the side with the higher ROI given the modeled yes
// probability. Ties break toward yes.
func SelectSide(probabilityYes float64, prices map[Side]float64) (Side, float64) {
	yesROI := ROIForPrice(probabilityYes, prices[SideYes])
	noROI := ROIForPrice(1-probabilityYes, prices[SideNo])
	if yesROI >= noROI {
		return SideYes, yesROI
	}
	return SideNo, noROI
}

// EvaluateMarket converts a modeled probability plus current prices into a
// signed edge report. Pure and deterministic: the caller supplies now.
func EvaluateMarket(probabilityYes float64, prices map[Side]float64, resolvesAt, now time.Time) Evaluation {
	side, roi := SelectSide(probabilityYes, prices)

	modeled := probabilityYes
	if side == SideNo {
		modeled = 1 - probabilityYes
	}
	edge := modeled - prices[side]

	days := resolvesAt.Sub(now).Seconds() / 86400
	if days < minDaysToExpiry {
		days = minDaysToExpiry
	}

	return Evaluation{
		Edge:         edge,
		ROI:          roi,
		APR:          AnnualizedAPR(roi, days),
		Side:         side,
		DaysToExpiry: days,
	}
}
