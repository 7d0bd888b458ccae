package domain

import "time"

// Side is one of the two tradeable sides of a binary prediction market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Outcome is a single tradeable outcome exposed through the Listing interface.
type Outcome struct {
	MarketID string
	Label    string
	Price    float64
}

// MarketSnapshot is an immutable view of a binary market at one instant,
// refreshed each cycle by the MarketFeed.
type MarketSnapshot struct {
	ID           string
	Question     string
	Prices       map[Side]float64 // price per side, each in (0,1)
	ResolvesAt   time.Time
	LiquidityUSD float64
	Volume24h    float64
}

// Outcomes returns both sides of the market as generic outcomes.
func (m MarketSnapshot) Outcomes() []Outcome {
	return []Outcome{
		{MarketID: m.ID, Label: string(SideYes), Price: m.Prices[SideYes]},
		{MarketID: m.ID, Label: string(SideNo), Price: m.Prices[SideNo]},
	}
}

// Liquidity returns the market's liquidity in USD.
func (m MarketSnapshot) Liquidity() float64 { return m.LiquidityUSD }

// EndDate returns the resolution timestamp.
func (m MarketSnapshot) EndDate() time.Time { return m.ResolvesAt }

// MarketGroup is a multi-outcome event: N mutually-near-exclusive binary
// markets resolving together (e.g. one market per candidate in an election).
type MarketGroup struct {
	ID      string
	Title   string
	Markets []MarketSnapshot
}

// Outcomes returns the yes side of every member market.
func (g MarketGroup) Outcomes() []Outcome {
	outs := make([]Outcome, 0, len(g.Markets))
	for _, m := range g.Markets {
		outs = append(outs, Outcome{MarketID: m.ID, Label: string(SideYes), Price: m.Prices[SideYes]})
	}
	return outs
}

// Liquidity returns the summed liquidity of all member markets.
func (g MarketGroup) Liquidity() float64 {
	var total float64
	for _, m := range g.Markets {
		total += m.LiquidityUSD
	}
	return total
}

// EndDate returns the latest resolution date across member markets.
func (g MarketGroup) EndDate() time.Time {
	var end time.Time
	for _, m := range g.Markets {
		if m.ResolvesAt.After(end) {
			end = m.ResolvesAt
		}
	}
	return end
}

// Listing is either a single market or a grouped event, consumed uniformly
// by the sizing layer.
type Listing interface {
	Outcomes() []Outcome
	Liquidity() float64
	EndDate() time.Time
}

var (
	_ Listing = MarketSnapshot{}
	_ Listing = MarketGroup{}
)
