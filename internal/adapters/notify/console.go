package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alejandrodnm/polledge/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Notifier, rendering tables to a writer.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PrintPositions renders the open-position table.
func (c *Console) PrintPositions(positions []domain.Position) {
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "no open positions")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Side", "Stake", "Entry", "Mark", "Unreal PnL", "Opened")

	for _, p := range positions {
		table.Append(
			truncate(p.MarketID, 30),
			string(p.Side),
			fmt.Sprintf("$%.2f", p.Stake),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.MarkPrice),
			fmt.Sprintf("$%+.2f", p.UnrealizedPnL),
			p.OpenedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()
}

// PrintHistory renders recent trades, newest first.
func (c *Console) PrintHistory(trades []domain.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "no trades recorded")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Market", "Side", "Kind", "Stake", "Price", "PnL")

	for _, t := range trades {
		pnl := "-"
		if t.Kind == domain.TradeClose {
			pnl = fmt.Sprintf("$%+.2f", t.PnL)
		}
		table.Append(
			t.Timestamp.Format("2006-01-02 15:04"),
			truncate(t.MarketID, 30),
			string(t.Side),
			string(t.Kind),
			fmt.Sprintf("$%.2f", t.Stake),
			fmt.Sprintf("%.4f", t.EntryPrice),
			pnl,
		)
	}
	table.Render()
}

// PrintPortfolio renders the portfolio summary.
func (c *Console) PrintPortfolio(state domain.PortfolioState) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] portfolio\n", now)

	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Cash available", fmt.Sprintf("$%.2f", state.CashAvailable))
	table.Append("Cash in play", fmt.Sprintf("$%.2f", state.CashInPlay))
	table.Append("Realized PnL", fmt.Sprintf("$%+.2f", state.RealizedPnL))
	table.Append("Open positions", fmt.Sprintf("%d", state.OpenPositions))
	table.Append("Closed trades", fmt.Sprintf("%d", state.ClosedTrades))
	if state.ClosedTrades > 0 {
		table.Append("Win rate", fmt.Sprintf("%.1f%%", state.WinRate*100))
		table.Append("Largest win", fmt.Sprintf("$%+.2f", state.LargestWin))
		table.Append("Largest loss", fmt.Sprintf("$%+.2f", state.LargestLoss))
	}
	table.Render()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
