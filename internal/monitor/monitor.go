package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polledge/internal/domain"
	"github.com/alejandrodnm/polledge/internal/ports"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultInterval    = time.Hour
	defaultBackoff     = 60 * time.Second
	defaultMaxParallel = 4
	defaultFeedRate    = 5 // snapshot fetches per second

	utilizationWarnPct = 0.90
)

// PositionStore is the slice of the ledger the monitor needs. Decouples the
// loop from the full ledger surface.
type PositionStore interface {
	OpenPositions(ctx context.Context) ([]domain.Position, error)
	UpdateMark(ctx context.Context, marketID string, markPrice, unrealizedPnL float64) error
}

// BalanceProvider reports spendable cash for the utilization check.
type BalanceProvider interface {
	Balance(ctx context.Context) (float64, error)
}

// Config tunes the monitoring loop.
type Config struct {
	Interval    time.Duration
	Backoff     time.Duration
	MaxParallel int
	FeedRate    rate.Limit
}

// Monitor periodically refreshes the mark price and unrealized PnL of every
// open position and reports capital utilization. It never closes positions:
// exits are an explicit operator decision.
type Monitor struct {
	ledger  PositionStore
	feed    ports.MarketFeed
	gateway BalanceProvider
	cfg     Config
	limiter *rate.Limiter
}

// New builds a monitor over the shared ledger.
func New(ledger PositionStore, feed ports.MarketFeed, gateway BalanceProvider, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.FeedRate <= 0 {
		cfg.FeedRate = defaultFeedRate
	}
	return &Monitor{
		ledger:  ledger,
		feed:    feed,
		gateway: gateway,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.FeedRate, 1),
	}
}

// Run executes cycles at the configured interval until ctx is cancelled.
// A failed cycle backs off for a fixed delay instead of waiting out the full
// interval. Both waits are interruptible.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("risk monitor started",
		"interval", m.cfg.Interval,
		"backoff", m.cfg.Backoff)

	for {
		wait := m.cfg.Interval
		if err := m.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("monitor cycle failed", "error", err)
			wait = m.cfg.Backoff
		}

		if err := sleep(ctx, wait); err != nil {
			slog.Info("risk monitor stopped")
			return err
		}
	}
}

// RunCycle refreshes every open position once and checks utilization.
// Per-position fetch failures are logged and skipped; they never abort the
// rest of the cycle.
func (m *Monitor) RunCycle(ctx context.Context) error {
	positions, err := m.ledger.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("monitor.RunCycle: %w", err)
	}

	// Fetches are independent, so parallelism is a pure optimization; the
	// limiter keeps the collaborator's call rate bounded either way.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxParallel)
	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			if err := m.limiter.Wait(gctx); err != nil {
				return err
			}
			m.refreshPosition(gctx, pos)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("monitor.RunCycle: %w", err)
	}

	return m.checkUtilization(ctx, positions)
}

// refreshPosition updates one position's mark. Failures are isolated.
func (m *Monitor) refreshPosition(ctx context.Context, pos domain.Position) {
	snap, err := m.feed.FetchSnapshot(ctx, pos.MarketID)
	if err != nil {
		slog.Warn("price refresh failed, skipping position",
			"market", pos.MarketID, "error", err)
		return
	}

	mark := snap.Prices[pos.Side]
	unrealized := (mark - pos.EntryPrice) * pos.Shares()

	if err := m.ledger.UpdateMark(ctx, pos.MarketID, mark, unrealized); err != nil {
		slog.Warn("mark update failed, skipping position",
			"market", pos.MarketID, "error", err)
		return
	}

	daysLeft := time.Until(snap.ResolvesAt).Hours() / 24
	slog.Info("position refreshed",
		"market", pos.MarketID,
		"side", pos.Side,
		"mark", fmt.Sprintf("%.4f", mark),
		"unrealized_pnl", fmt.Sprintf("%.2f", unrealized),
		"days_left", fmt.Sprintf("%.1f", daysLeft))
}

// checkUtilization warns when deployed capital crosses the threshold.
func (m *Monitor) checkUtilization(ctx context.Context, positions []domain.Position) error {
	balance, err := m.gateway.Balance(ctx)
	if err != nil {
		return fmt.Errorf("monitor: balance: %w", err)
	}

	var exposure float64
	for _, p := range positions {
		exposure += p.Stake
	}
	total := exposure + balance
	if total <= 0 {
		return nil
	}

	utilization := exposure / total
	if utilization > utilizationWarnPct {
		slog.Warn("capital utilization high",
			"utilization", fmt.Sprintf("%.1f%%", utilization*100),
			"exposure", fmt.Sprintf("%.2f", exposure),
			"available", fmt.Sprintf("%.2f", balance))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
