package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polledge/config"
	"github.com/alejandrodnm/polledge/internal/adapters/feed"
	"github.com/alejandrodnm/polledge/internal/adapters/gateway"
	"github.com/alejandrodnm/polledge/internal/adapters/notify"
	"github.com/alejandrodnm/polledge/internal/adapters/storage"
	"github.com/alejandrodnm/polledge/internal/domain"
	"github.com/alejandrodnm/polledge/internal/engine"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")

	positions := flag.Bool("positions", false, "list open positions")
	history := flag.Bool("history", false, "list recent trades")
	limit := flag.Int("limit", 50, "max trades to list with -history")
	portfolio := flag.Bool("portfolio", false, "print portfolio metrics")

	evaluate := flag.String("evaluate", "", "path to a JSON file of research estimates to evaluate")
	group := flag.String("group", "", "path to a JSON file of group outcomes to size")
	markets := flag.String("markets", "markets.json", "path to the market snapshot fixture")

	accept := flag.String("accept", "", "market id of the proposal to accept")
	stake := flag.Float64("stake", 0, "stake override for -accept (0 keeps the proposed stake)")
	side := flag.String("side", "", "side override for -accept: yes|no")

	closeMarket := flag.String("close", "", "market id of the position to close")
	price := flag.Float64("price", 0, "exit price for -close")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ledger, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open ledger", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer ledger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole()

	// Fast read-only paths need no feed or gateway.
	switch {
	case *positions:
		open, err := ledger.OpenPositions(ctx)
		exitOn(err, "listing positions")
		console.PrintPositions(open)
		return
	case *history:
		trades, err := ledger.TradeHistory(ctx, *limit)
		exitOn(err, "listing history")
		console.PrintHistory(trades)
		return
	case *portfolio:
		state, err := ledger.Metrics(ctx, cfg.Portfolio.StartingCash)
		exitOn(err, "computing metrics")
		console.PrintPortfolio(state)
		return
	}

	marketFeed, err := feed.Load(*markets)
	exitOn(err, "loading market fixture")

	state, err := ledger.Metrics(ctx, cfg.Portfolio.StartingCash)
	exitOn(err, "computing metrics")
	paper := gateway.NewPaper(state.CashAvailable)

	eng := engine.New(ledger, paper, marketFeed, engineConfig(cfg))

	switch {
	case *evaluate != "":
		runEvaluate(ctx, eng, marketFeed, *evaluate)
	case *group != "":
		runGroup(ctx, eng, *group)
	case *accept != "":
		runAccept(ctx, eng, *accept, *stake, *side)
	case *closeMarket != "":
		trade, err := eng.Close(ctx, *closeMarket, *price)
		exitOn(err, "closing position")
		// The exit value (stake plus realized PnL) flows back to cash.
		paper.Credit(trade.Stake + trade.PnL)
		fmt.Printf("closed %s: pnl $%+.2f\n", trade.MarketID, trade.PnL)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// estimateFile is the JSON shape of one research estimate on disk.
type estimateFile struct {
	MarketID       string   `json:"market_id"`
	ProbabilityYes float64  `json:"probability_yes"`
	Confidence     float64  `json:"confidence"`
	Rationale      string   `json:"rationale"`
	Citations      []string `json:"citations"`
	Rounds         int      `json:"rounds"`
}

// outcomeFile is the JSON shape of one group leg on disk.
type outcomeFile struct {
	MarketID       string  `json:"market_id"`
	Question       string  `json:"question"`
	Probability    float64 `json:"probability"`
	Confidence     float64 `json:"confidence"` // 0-100 research scale
	Price          float64 `json:"price"`
	ProposedStake  float64 `json:"proposed_stake"`
	Rationale      string  `json:"rationale"`
	EntrySuggested bool    `json:"entry_suggested"`
}

func runEvaluate(ctx context.Context, eng *engine.Engine, marketFeed *feed.Static, path string) {
	entries, err := loadJSON[[]estimateFile](path)
	exitOn(err, "loading estimates")

	now := time.Now().UTC()
	cycle := engine.NewCycle(now)

	for _, e := range entries {
		est := domain.ResearchEstimate{
			MarketID:       e.MarketID,
			ProbabilityYes: e.ProbabilityYes,
			Confidence:     e.Confidence,
			Rationale:      e.Rationale,
			Citations:      e.Citations,
			Rounds:         e.Rounds,
		}
		snap, err := marketFeed.FetchSnapshot(ctx, est.MarketID)
		if err != nil {
			slog.Warn("no snapshot for market, skipping", "market", est.MarketID, "err", err)
			continue
		}
		result, err := eng.Evaluate(ctx, cycle, est, snap, now)
		if err != nil {
			slog.Warn("evaluation failed, skipping", "market", est.MarketID, "err", err)
			continue
		}
		printResult(est.MarketID, result)
	}

	fmt.Printf("\n%d markets evaluated, %d proposals pending acceptance\n",
		cycle.Len(), len(cycle.Qualified()))
}

func runGroup(ctx context.Context, eng *engine.Engine, path string) {
	entries, err := loadJSON[[]outcomeFile](path)
	exitOn(err, "loading group outcomes")

	outcomes := make([]domain.GroupOutcome, 0, len(entries))
	for _, e := range entries {
		outcomes = append(outcomes, domain.GroupOutcome{
			MarketID:       e.MarketID,
			Question:       e.Question,
			Probability:    e.Probability,
			Confidence:     e.Confidence,
			Price:          e.Price,
			ProposedStake:  e.ProposedStake,
			Rationale:      e.Rationale,
			EntrySuggested: e.EntrySuggested,
		})
	}

	plan, err := eng.EvaluateGroup(ctx, outcomes)
	exitOn(err, "sizing group")

	for _, e := range plan.Entries {
		if e.Entered {
			kind := "standard"
			if e.Hedge {
				kind = "hedge"
			}
			fmt.Printf("ENTER %-30s %s stake $%.2f edge %.4f ev $%.2f (%.1f%%)\n",
				e.Outcome.MarketID, kind, e.Stake, e.Edge, e.ExpectedValue, e.PortfolioPct)
		} else {
			fmt.Printf("PASS  %-30s %s\n", e.Outcome.MarketID, e.Reason)
		}
	}
	fmt.Printf("\n%d/%d legs entered, total stake $%.2f, combined ev $%.2f\n",
		plan.EnteredCount, len(plan.Entries), plan.TotalStake, plan.CombinedEV)
}

func runAccept(ctx context.Context, eng *engine.Engine, marketID string, stake float64, side string) {
	var overrides engine.AcceptOverrides
	if stake != 0 {
		overrides.Stake = &stake
	}
	if side != "" {
		s := domain.Side(side)
		overrides.Side = &s
	}

	trade, err := eng.Accept(ctx, marketID, overrides)
	exitOn(err, "accepting proposal")
	fmt.Printf("accepted %s: %s $%.2f @ %.4f (%.2f shares)\n",
		trade.MarketID, trade.Side, trade.Stake, trade.EntryPrice, trade.Shares())
}

func printResult(marketID string, result engine.Result) {
	if result.Qualified() {
		p := result.Proposal
		fmt.Printf("PROPOSE %-30s %s stake $%.2f edge %.4f apr %.2f\n",
			marketID, p.Side, p.Stake, p.Edge, p.APR)
		return
	}
	fmt.Printf("PASS    %-30s", marketID)
	for _, d := range result.Disqualifications {
		fmt.Printf(" [%s]", d.Reason)
	}
	fmt.Println()
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		MinConfidence: cfg.Research.MinConfidence,
		MinEdge:       cfg.Research.MinEdge,
		Sizing: domain.SizingConfig{
			Policy:      domain.SizingPolicy(cfg.Sizing.Policy),
			Bankroll:    cfg.Sizing.Bankroll,
			RiskBudget:  cfg.Sizing.RiskBudget,
			MaxFraction: cfg.Sizing.MaxFraction,
			MinStake:    cfg.Sizing.MinStake,
		},
		Risk: engine.RiskLimits{
			GasReserve:            cfg.Risk.GasReserve,
			MaxPositionPct:        cfg.Risk.MaxPositionPct,
			CapitalUtilizationPct: cfg.Risk.CapitalUtilizationPct,
		},
		Group: domain.GroupConfig{
			MinEdge:       cfg.Research.MinEdge,
			MinConfidence: cfg.Research.MinConfidence,
			MinStake:      cfg.Sizing.MinStake,
		},
		StartingCash: cfg.Portfolio.StartingCash,
	}
}

func loadJSON[T any](path string) (T, error) {
	var out T
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("parse %q: %w", path, err)
	}
	return out, nil
}

func exitOn(err error, doing string) {
	if err != nil {
		slog.Error("polledge: "+doing, "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
