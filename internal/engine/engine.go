package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polledge/internal/domain"
	"github.com/alejandrodnm/polledge/internal/ports"
	"github.com/google/uuid"
)

// RiskLimits are the portfolio-level caps checked at acceptance time.
type RiskLimits struct {
	GasReserve            float64
	MaxPositionPct        float64
	CapitalUtilizationPct float64
}

// Config is the full decision policy.
type Config struct {
	MinConfidence float64
	MinEdge       float64
	Sizing        domain.SizingConfig
	Risk          RiskLimits
	Group         domain.GroupConfig
	StartingCash  float64
}

// Result is the outcome of evaluating one estimate: either a persisted
// proposal or the collected disqualification reasons. The estimate row id is
// always set; estimates are stored whether or not they qualify.
type Result struct {
	Evaluation        domain.Evaluation
	Proposal          *domain.Proposal
	Disqualifications []domain.Disqualification
	ResearchID        int64
}

// Qualified reports whether the evaluation produced a proposal.
func (r Result) Qualified() bool { return r.Proposal != nil }

// AcceptOverrides optionally replace a proposal's stake or side at
// acceptance. Nil fields keep the proposed values.
type AcceptOverrides struct {
	Stake *float64
	Side  *domain.Side
}

// Engine turns research estimates into bounded trade decisions and keeps the
// ledger authoritative. All computation is pure until the final write, so a
// failed evaluation can always be retried; writes go through the ledger's
// idempotency key.
type Engine struct {
	ledger  ports.Ledger
	gateway ports.TradingGateway
	feed    ports.MarketFeed
	cfg     Config
}

// New wires the engine to its collaborators.
func New(ledger ports.Ledger, gateway ports.TradingGateway, feed ports.MarketFeed, cfg Config) *Engine {
	return &Engine{ledger: ledger, gateway: gateway, feed: feed, cfg: cfg}
}

// Evaluate converts an estimate plus a market snapshot into a proposal or a
// list of disqualifications. The estimate is persisted either way. When cycle
// is non-nil the result is also recorded there for the orchestrator.
func (e *Engine) Evaluate(ctx context.Context, cycle *Cycle, est domain.ResearchEstimate, snapshot domain.MarketSnapshot, now time.Time) (Result, error) {
	if est.CreatedAt.IsZero() {
		est.CreatedAt = now
	}
	researchID, err := e.ledger.SaveEstimate(ctx, est)
	if err != nil {
		return Result{}, fmt.Errorf("engine.Evaluate: %w", err)
	}

	eval := domain.EvaluateMarket(est.ProbabilityYes, snapshot.Prices, snapshot.ResolvesAt, now)
	result := Result{Evaluation: eval, ResearchID: researchID}

	if est.Confidence < e.cfg.MinConfidence {
		result.Disqualifications = append(result.Disqualifications, domain.Disqualification{
			Code: "confidence",
			Reason: fmt.Sprintf("confidence %.0f%% below minimum %.0f%%",
				est.Confidence*100, e.cfg.MinConfidence*100),
		})
	}
	if eval.ROI <= 0 {
		result.Disqualifications = append(result.Disqualifications, domain.Disqualification{
			Code:   "roi",
			Reason: fmt.Sprintf("non-positive roi %.4f on %s side", eval.ROI, eval.Side),
		})
	}
	if eval.Edge < e.cfg.MinEdge {
		result.Disqualifications = append(result.Disqualifications, domain.Disqualification{
			Code:   "edge",
			Reason: fmt.Sprintf("edge %.4f below minimum %.4f", eval.Edge, e.cfg.MinEdge),
		})
	}

	stake, disq := domain.RecommendStake(e.cfg.Sizing, est.Confidence, eval.ROI)
	if disq != nil {
		result.Disqualifications = append(result.Disqualifications, *disq)
	}

	if len(result.Disqualifications) > 0 {
		slog.Info("market disqualified",
			"market", snapshot.ID,
			"side", eval.Side,
			"reasons", len(result.Disqualifications))
		cycle.record(snapshot.ID, result)
		return result, nil
	}

	proposal := domain.Proposal{
		ID:         uuid.NewString(),
		MarketID:   snapshot.ID,
		Side:       eval.Side,
		Stake:      stake,
		Edge:       eval.Edge,
		APR:        eval.APR,
		CreatedAt:  now,
		ResearchID: researchID,
	}
	if err := e.ledger.SaveProposal(ctx, proposal); err != nil {
		return Result{}, fmt.Errorf("engine.Evaluate: %w", err)
	}

	slog.Info("proposal created",
		"market", snapshot.ID,
		"side", proposal.Side,
		"stake", fmt.Sprintf("%.2f", proposal.Stake),
		"edge", fmt.Sprintf("%.4f", proposal.Edge),
		"apr", fmt.Sprintf("%.2f", proposal.APR))

	result.Proposal = &proposal
	cycle.record(snapshot.ID, result)
	return result, nil
}

// Research runs the external research provider on a market and evaluates
// the resulting estimate in one step. Provider failures skip the market;
// they never abort the caller's pass.
func (e *Engine) Research(ctx context.Context, cycle *Cycle, provider ports.ResearchProvider, snapshot domain.MarketSnapshot, now time.Time) (Result, error) {
	est, err := provider.Research(ctx, snapshot)
	if err != nil {
		return Result{}, fmt.Errorf("engine.Research: %q: %w", snapshot.ID, err)
	}
	if est.MarketID == "" {
		est.MarketID = snapshot.ID
	}
	return e.Evaluate(ctx, cycle, est, snapshot, now)
}

// EvaluateGroup sizes every leg of a multi-outcome event and routes the
// combined stake through the portfolio risk gate, scaling legs when capped.
func (e *Engine) EvaluateGroup(ctx context.Context, outcomes []domain.GroupOutcome) (domain.GroupPlan, error) {
	plan := domain.SizeGroup(e.cfg.Group, outcomes)
	if plan.EnteredCount == 0 {
		return plan, nil
	}

	gate, err := e.gateInput(ctx, plan.TotalStake)
	if err != nil {
		return domain.GroupPlan{}, fmt.Errorf("engine.EvaluateGroup: %w", err)
	}
	plan = domain.ApplyGroupGate(plan, e.cfg.Group, gate)

	slog.Info("group sized",
		"legs", len(plan.Entries),
		"entered", plan.EnteredCount,
		"total_stake", fmt.Sprintf("%.2f", plan.TotalStake),
		"combined_ev", fmt.Sprintf("%.2f", plan.CombinedEV))
	return plan, nil
}

// Accept executes the market's pending proposal through the trading gateway
// and records the fill. Overrides apply before the risk gate; the gate's
// clamp is final.
func (e *Engine) Accept(ctx context.Context, marketID string, overrides AcceptOverrides) (domain.Trade, error) {
	proposal, err := e.ledger.PendingProposal(ctx, marketID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine.Accept: %w", err)
	}

	if overrides.Stake != nil {
		if *overrides.Stake <= 0 {
			return domain.Trade{}, fmt.Errorf("engine.Accept: override %.2f: %w",
				*overrides.Stake, domain.ErrInvalidStake)
		}
		proposal.Stake = *overrides.Stake
	}
	if overrides.Side != nil {
		if !overrides.Side.Valid() {
			return domain.Trade{}, fmt.Errorf("engine.Accept: invalid side override %q", *overrides.Side)
		}
		proposal.Side = *overrides.Side
	}

	gate, err := e.gateInput(ctx, proposal.Stake)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine.Accept: %w", err)
	}
	gated := domain.ApplyRiskGate(gate)
	if gated.Clamped {
		slog.Warn("risk gate clamped stake", "market", marketID, "reason", gated.Reason)
	}
	if gated.Stake <= 0 {
		return domain.Trade{}, fmt.Errorf("engine.Accept: %s: %w", gated.Reason, domain.ErrInvalidStake)
	}

	snapshot, err := e.feed.FetchSnapshot(ctx, marketID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine.Accept: snapshot: %w", err)
	}

	fill, err := e.gateway.Execute(ctx, ports.TradeRequest{
		MarketID:   marketID,
		Side:       proposal.Side,
		Stake:      gated.Stake,
		LimitPrice: snapshot.Prices[proposal.Side],
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine.Accept: execute: %w", err)
	}

	trade := domain.Trade{
		ID:         uuid.NewString(),
		MarketID:   marketID,
		Side:       proposal.Side,
		Kind:       domain.TradeEntry,
		Stake:      gated.Stake,
		EntryPrice: fill.Price,
		Timestamp:  time.Now().UTC(),
		ResearchID: proposal.ResearchID,
	}

	// The proposal id is the idempotency key: one proposal, one entry. An
	// acceptance retried after a partial failure replays the originally
	// recorded trade instead of double-entering the position.
	recorded, err := e.ledger.RecordTrade(ctx, trade, proposal.ID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine.Accept: %w", err)
	}

	if err := e.ledger.MarkAccepted(ctx, proposal.ID, recorded.Stake, recorded.Side); err != nil {
		return domain.Trade{}, fmt.Errorf("engine.Accept: %w", err)
	}

	slog.Info("trade accepted",
		"market", marketID,
		"side", recorded.Side,
		"stake", fmt.Sprintf("%.2f", recorded.Stake),
		"price", fmt.Sprintf("%.4f", recorded.EntryPrice),
		"order", fill.OrderID)
	return recorded, nil
}

// Close realizes the market's open position at the given exit price.
// No automated exit triggers exist; this is always operator-initiated.
func (e *Engine) Close(ctx context.Context, marketID string, exitPrice float64) (domain.Trade, error) {
	if exitPrice <= 0 {
		return domain.Trade{}, fmt.Errorf("engine.Close: exit price %.4f: %w",
			exitPrice, domain.ErrInvalidStake)
	}
	trade, err := e.ledger.ClosePosition(ctx, marketID, exitPrice, time.Now().UTC())
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine.Close: %w", err)
	}
	slog.Info("position closed",
		"market", marketID,
		"exit", fmt.Sprintf("%.4f", exitPrice),
		"pnl", fmt.Sprintf("%.2f", trade.PnL))
	return trade, nil
}

// Portfolio folds the ledger into the current portfolio view.
func (e *Engine) Portfolio(ctx context.Context) (domain.PortfolioState, error) {
	state, err := e.ledger.Metrics(ctx, e.cfg.StartingCash)
	if err != nil {
		return domain.PortfolioState{}, fmt.Errorf("engine.Portfolio: %w", err)
	}
	return state, nil
}

// gateInput assembles the risk-gate view of the portfolio from the gateway
// balance and current ledger exposure.
func (e *Engine) gateInput(ctx context.Context, recommended float64) (domain.GateInput, error) {
	balance, err := e.gateway.Balance(ctx)
	if err != nil {
		return domain.GateInput{}, fmt.Errorf("balance: %w", err)
	}
	positions, err := e.ledger.OpenPositions(ctx)
	if err != nil {
		return domain.GateInput{}, fmt.Errorf("exposure: %w", err)
	}
	var exposure float64
	for _, p := range positions {
		exposure += p.Stake
	}
	return domain.GateInput{
		Recommended:           recommended,
		AvailableBalance:      balance,
		Reserve:               e.cfg.Risk.GasReserve,
		CurrentExposure:       exposure,
		MaxPositionPct:        e.cfg.Risk.MaxPositionPct,
		CapitalUtilizationPct: e.cfg.Risk.CapitalUtilizationPct,
	}, nil
}
