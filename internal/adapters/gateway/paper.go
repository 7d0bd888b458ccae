package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/polledge/internal/ports"
	"github.com/google/uuid"
)

// Paper implements ports.TradingGateway without touching an exchange: fills
// happen instantly at the limit price and cash is tracked in memory. The
// ledger stays authoritative for positions; this only simulates the cash leg.
type Paper struct {
	mu      sync.Mutex
	balance float64
}

// NewPaper creates a paper gateway with the given starting balance, already
// net of any reserve.
func NewPaper(balance float64) *Paper {
	return &Paper{balance: balance}
}

// Execute fills the full stake at the limit price.
func (p *Paper) Execute(_ context.Context, req ports.TradeRequest) (ports.Fill, error) {
	if req.Stake <= 0 {
		return ports.Fill{}, fmt.Errorf("gateway.Execute: non-positive stake %.2f", req.Stake)
	}
	if req.LimitPrice <= 0 || req.LimitPrice >= 1 {
		return ports.Fill{}, fmt.Errorf("gateway.Execute: limit price %.4f outside (0,1)", req.LimitPrice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Stake > p.balance {
		return ports.Fill{}, fmt.Errorf("gateway.Execute: stake %.2f exceeds balance %.2f", req.Stake, p.balance)
	}
	p.balance -= req.Stake

	fill := ports.Fill{
		OrderID: uuid.NewString(),
		Price:   req.LimitPrice,
		Size:    req.Stake / req.LimitPrice,
	}
	slog.Info("paper fill",
		"market", req.MarketID,
		"side", req.Side,
		"stake", fmt.Sprintf("%.2f", req.Stake),
		"price", fmt.Sprintf("%.4f", fill.Price),
		"shares", fmt.Sprintf("%.2f", fill.Size))
	return fill, nil
}

// Balance returns the remaining simulated cash.
func (p *Paper) Balance(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// Credit returns cash to the balance, used when a position is closed.
func (p *Paper) Credit(amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance += amount
}
