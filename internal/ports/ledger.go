package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polledge/internal/domain"
)

// Ledger is the transactional store of estimates, proposals, trades, and
// aggregated positions. The single source of truth shared by the CLI and the
// monitor daemon; implementations must survive concurrent writers.
type Ledger interface {
	// SaveEstimate persists a research estimate and returns its row id.
	// Called for every evaluation, proposal or not.
	SaveEstimate(ctx context.Context, est domain.ResearchEstimate) (int64, error)

	// SaveProposal persists an unaccepted proposal.
	SaveProposal(ctx context.Context, p domain.Proposal) error

	// PendingProposal returns the newest unaccepted proposal for a market.
	// Returns domain.ErrNoProposal when none exists.
	PendingProposal(ctx context.Context, marketID string) (domain.Proposal, error)

	// MarkAccepted flips a proposal to accepted, with optional overrides
	// applied by the caller beforehand.
	MarkAccepted(ctx context.Context, proposalID string, stake float64, side domain.Side) error

	// RecordTrade appends a trade and creates or merges the open position for
	// its market inside one transaction. The idempotency key makes retried
	// calls return the originally recorded trade instead of double-entering.
	// Returns domain.ErrSideConflict when the trade's side disagrees with the
	// open position.
	RecordTrade(ctx context.Context, t domain.Trade, idempotencyKey string) (domain.Trade, error)

	// ClosePosition realizes PnL at the exit price, writes a closing trade
	// for audit, and marks the position closed.
	ClosePosition(ctx context.Context, marketID string, exitPrice float64, now time.Time) (domain.Trade, error)

	// OpenPositions returns every open position.
	OpenPositions(ctx context.Context) ([]domain.Position, error)

	// UpdateMark refreshes the mark price and unrealized PnL of an open
	// position without touching its stake or entry price.
	UpdateMark(ctx context.Context, marketID string, markPrice, unrealizedPnL float64) error

	// TradeHistory returns the most recent trades, newest first.
	TradeHistory(ctx context.Context, limit int) ([]domain.Trade, error)

	// Metrics folds the trade log plus current positions into a portfolio
	// view. Pure with respect to the log: idempotent between writes.
	Metrics(ctx context.Context, startingCash float64) (domain.PortfolioState, error)

	// Close releases the underlying store.
	Close() error
}
