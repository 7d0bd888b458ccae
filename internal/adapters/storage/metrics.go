package storage

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polledge/internal/domain"
	"github.com/shopspring/decimal"
)

// Metrics folds the ledger into a portfolio snapshot. It reads, never
// writes, so calling it twice in a row yields identical results.
func (l *Ledger) Metrics(ctx context.Context, startingCash float64) (domain.PortfolioState, error) {
	var state domain.PortfolioState

	positions, err := l.OpenPositions(ctx)
	if err != nil {
		return state, fmt.Errorf("storage.Metrics: %w", err)
	}

	inPlay := decimal.Zero
	for _, p := range positions {
		inPlay = inPlay.Add(decimal.NewFromFloat(p.Stake))
	}
	state.OpenPositions = len(positions)
	state.CashInPlay, _ = inPlay.Float64()

	rows, err := l.db.QueryContext(ctx, `
		SELECT pnl FROM trades WHERE kind = ? ORDER BY timestamp`, string(domain.TradeClose))
	if err != nil {
		return state, fmt.Errorf("storage.Metrics: closed trades: %w", err)
	}
	defer rows.Close()

	realized := decimal.Zero
	var wins int
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return state, fmt.Errorf("storage.Metrics: scan: %w", err)
		}
		state.ClosedTrades++
		realized = realized.Add(decimal.NewFromFloat(pnl))
		if pnl > 0 {
			wins++
		}
		if pnl > state.LargestWin {
			state.LargestWin = pnl
		}
		if pnl < state.LargestLoss {
			state.LargestLoss = pnl
		}
	}
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("storage.Metrics: rows: %w", err)
	}

	state.RealizedPnL, _ = realized.Float64()
	if state.ClosedTrades > 0 {
		state.WinRate = float64(wins) / float64(state.ClosedTrades)
	}

	cash := decimal.NewFromFloat(startingCash).Add(realized).Sub(inPlay)
	state.CashAvailable, _ = cash.Float64()
	return state, nil
}
