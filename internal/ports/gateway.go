package ports

import (
	"context"

	"github.com/alejandrodnm/polledge/internal/domain"
)

// TradeRequest is sent to the trading gateway on acceptance.
type TradeRequest struct {
	MarketID   string
	Side       domain.Side
	Stake      float64 // USDC
	LimitPrice float64 // snapshot price at decision time
}

// Fill is the gateway's report of an executed trade.
type Fill struct {
	OrderID string
	Price   float64 // actual entry price per share
	Size    float64 // shares
}

// TradingGateway executes accepted trades and reports balances. Wallet and
// exchange mechanics are entirely behind this interface.
type TradingGateway interface {
	// Execute buys Stake worth of the requested side and returns the fill.
	Execute(ctx context.Context, req TradeRequest) (Fill, error)

	// Balance returns spendable cash, already net of the gas/fee reserve.
	Balance(ctx context.Context) (float64, error)
}
