package domain

import (
	"errors"
	"time"
)

var (
	// ErrNoProposal is returned when accepting a market with no pending proposal.
	ErrNoProposal = errors.New("no pending proposal for market")

	// ErrInvalidStake is returned for a non-positive stake or stake override.
	ErrInvalidStake = errors.New("stake must be positive")

	// ErrSideConflict is returned when a trade's side disagrees with the open
	// position for the same market. The position must be closed first.
	ErrSideConflict = errors.New("trade side conflicts with open position")

	// ErrNoPosition is returned when closing a market with no open position.
	ErrNoPosition = errors.New("no open position for market")
)

// PositionStatus is the lifecycle state of an aggregated position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// TradeKind distinguishes entries from the closing trade written for audit.
type TradeKind string

const (
	TradeEntry TradeKind = "entry"
	TradeClose TradeKind = "close"
)

// Proposal is a sized trade recommendation awaiting acceptance.
// Mutable only before acceptance (stake/side overrides).
type Proposal struct {
	ID         string
	MarketID   string
	Side       Side
	Stake      float64
	Edge       float64
	APR        float64
	Accepted   bool
	CreatedAt  time.Time
	ResearchID int64
}

// Trade is one executed fill. Append-only and immutable once written; the
// trade log is the sole source of truth for reconstructing portfolio state.
type Trade struct {
	ID         string
	MarketID   string
	Side       Side
	Kind       TradeKind
	Stake      float64
	EntryPrice float64 // exit price for closing trades
	PnL        float64 // realized, closing trades only
	Timestamp  time.Time
	ResearchID int64
}

// Shares returns the number of $1-payout shares the trade bought.
func (t Trade) Shares() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.Stake / t.EntryPrice
}

// Position is the aggregated open exposure to one market/side. At most one
// open row exists per market; merges keep EntryPrice a stake-weighted average
// of the constituent trades.
type Position struct {
	MarketID      string
	Side          Side
	Stake         float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Status        PositionStatus
	Version       int64 // optimistic-locking counter, bumped on every merge
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// Shares returns the share count implied by stake and average entry price.
func (p Position) Shares() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Stake / p.EntryPrice
}

// PortfolioState is a derived view, reproducible by folding over the trade
// log plus the current position snapshot. No independently maintained
// counters that can drift.
type PortfolioState struct {
	CashAvailable float64
	CashInPlay    float64
	RealizedPnL   float64

	OpenPositions int
	ClosedTrades  int
	WinRate       float64
	LargestWin    float64
	LargestLoss   float64
}

// Disqualification records why a research estimate did not yield a proposal.
// An expected outcome, not an error.
type Disqualification struct {
	Code   string // "confidence" | "edge" | "roi" | "stake"
	Reason string
}

func (d Disqualification) String() string { return d.Code + ": " + d.Reason }
