package storage

// ledger.go — estimates, proposals, trades, and positions.
//
// The trade log is append-only; positions are the mutable aggregate. Merges
// run a compare-and-swap loop on the position's version column so that two
// writers (CLI + monitor daemon) sharing one database cannot corrupt the
// stake-weighted entry price.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polledge/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxMergeRetries bounds the CAS loop. Conflicts need a competing writer on
// the same market; a burst from another process can cost several rounds in a
// row, so the bound is generous.
const maxMergeRetries = 25

// ─── Estimates ───────────────────────────────────────────────────────────────

// SaveEstimate persists a research estimate and returns its row id.
func (l *Ledger) SaveEstimate(ctx context.Context, est domain.ResearchEstimate) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO estimates (market_id, probability_yes, confidence, rationale, citations, rounds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		est.MarketID, est.ProbabilityYes, est.Confidence, est.Rationale,
		strings.Join(est.Citations, "\n"), est.Rounds, fmtTime(est.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("storage.SaveEstimate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage.SaveEstimate: last id: %w", err)
	}
	return id, nil
}

// ─── Proposals ───────────────────────────────────────────────────────────────

// SaveProposal persists an unaccepted proposal.
func (l *Ledger) SaveProposal(ctx context.Context, p domain.Proposal) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO proposals (id, market_id, side, stake, edge, apr, accepted, created_at, research_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MarketID, string(p.Side), p.Stake, p.Edge, p.APR,
		boolToInt(p.Accepted), fmtTime(p.CreatedAt), p.ResearchID,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveProposal: %w", err)
	}
	return nil
}

// PendingProposal returns the newest unaccepted proposal for a market.
func (l *Ledger) PendingProposal(ctx context.Context, marketID string) (domain.Proposal, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, market_id, side, stake, edge, apr, accepted, created_at, research_id
		FROM proposals
		WHERE market_id = ? AND accepted = 0
		ORDER BY created_at DESC
		LIMIT 1`, marketID)

	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Proposal{}, fmt.Errorf("storage.PendingProposal: %q: %w", marketID, domain.ErrNoProposal)
	}
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("storage.PendingProposal: %w", err)
	}
	return p, nil
}

// MarkAccepted flips a proposal to accepted with its final stake and side.
func (l *Ledger) MarkAccepted(ctx context.Context, proposalID string, stake float64, side domain.Side) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE proposals SET accepted = 1, stake = ?, side = ?
		WHERE id = ? AND accepted = 0`,
		stake, string(side), proposalID)
	if err != nil {
		return fmt.Errorf("storage.MarkAccepted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.MarkAccepted: rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage.MarkAccepted: %q: %w", proposalID, domain.ErrNoProposal)
	}
	return nil
}

// ─── Trades & positions ──────────────────────────────────────────────────────

// RecordTrade appends a trade and creates or merges the market's open
// position in one transaction. Retried calls with the same idempotency key
// return the originally recorded trade.
func (l *Ledger) RecordTrade(ctx context.Context, t domain.Trade, idempotencyKey string) (domain.Trade, error) {
	if idempotencyKey == "" {
		return domain.Trade{}, fmt.Errorf("storage.RecordTrade: empty idempotency key")
	}
	if t.Stake < 0 {
		return domain.Trade{}, fmt.Errorf("storage.RecordTrade: stake %.2f: %w", t.Stake, domain.ErrInvalidStake)
	}
	if !t.Side.Valid() {
		return domain.Trade{}, fmt.Errorf("storage.RecordTrade: invalid side %q", t.Side)
	}
	if t.Kind == "" {
		t.Kind = domain.TradeEntry
	}

	for attempt := 0; attempt < maxMergeRetries; attempt++ {
		if existing, err := l.tradeByIdemKey(ctx, idempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("storage.RecordTrade: idem lookup: %w", err)
		}

		done, err := l.tryRecordTrade(ctx, t, idempotencyKey)
		if err != nil {
			return domain.Trade{}, err
		}
		if done {
			return t, nil
		}
		// Conflict: another writer merged, seeded, or held the write lock
		// first. Re-read (the key may now exist) and retry.
	}
	return domain.Trade{}, fmt.Errorf("storage.RecordTrade: %q: gave up after %d merge conflicts", t.MarketID, maxMergeRetries)
}

// tryRecordTrade runs one transactional attempt. Returns done=false on any
// conflict that warrants a retry: a version CAS miss, or a cross-process
// writer surfacing as SQLITE_BUSY or a unique-index violation.
func (l *Ledger) tryRecordTrade(ctx context.Context, t domain.Trade, idempotencyKey string) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		if retryableWriteErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage.RecordTrade: begin: %w", err)
	}
	defer tx.Rollback()

	pos, err := scanPosition(tx.QueryRowContext(ctx, `
		SELECT market_id, side, stake, entry_price, mark_price, unrealized_pnl,
		       status, version, opened_at, updated_at
		FROM positions
		WHERE market_id = ? AND status = 'open'`, t.MarketID))

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First trade for this market: seed a fresh position.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (market_id, side, stake, entry_price, mark_price,
			                       unrealized_pnl, status, version, opened_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, 'open', 1, ?, ?)`,
			t.MarketID, string(t.Side), t.Stake, t.EntryPrice, t.EntryPrice,
			fmtTime(t.Timestamp), fmtTime(t.Timestamp),
		); err != nil {
			// A concurrent seeder from another process hits idx_positions_open
			// here; the retry will find its row and merge instead.
			if retryableWriteErr(err) {
				return false, nil
			}
			return false, fmt.Errorf("storage.RecordTrade: seed position: %w", err)
		}

	case err != nil:
		return false, fmt.Errorf("storage.RecordTrade: read position: %w", err)

	case pos.Side != t.Side:
		// Policy decision: opposing entries are rejected until the position
		// is explicitly closed. Netting out would hide exposure history.
		return false, fmt.Errorf("storage.RecordTrade: %q holds %s: %w", t.MarketID, pos.Side, domain.ErrSideConflict)

	default:
		newStake, newEntry := mergePrices(pos.Stake, pos.EntryPrice, t.Stake, t.EntryPrice)
		res, err := tx.ExecContext(ctx, `
			UPDATE positions
			SET stake = ?, entry_price = ?, version = version + 1, updated_at = ?
			WHERE market_id = ? AND status = 'open' AND version = ?`,
			newStake, newEntry, fmtTime(t.Timestamp), t.MarketID, pos.Version)
		if err != nil {
			if retryableWriteErr(err) {
				return false, nil
			}
			return false, fmt.Errorf("storage.RecordTrade: merge: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("storage.RecordTrade: merge rows: %w", err)
		}
		if n == 0 {
			return false, nil // lost the CAS race
		}
	}

	if err := insertTrade(ctx, tx, t, idempotencyKey); err != nil {
		// idx_trades_idem firing means another writer committed this key;
		// the retry's lookup returns that trade.
		if retryableWriteErr(err) {
			return false, nil
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		if retryableWriteErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage.RecordTrade: commit: %w", err)
	}
	return true, nil
}

// retryableWriteErr reports whether a write failed on a transient conflict
// another attempt can absorb: the database held by a concurrent writer, or a
// unique index hit by one that got there first.
func retryableWriteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "UNIQUE constraint failed: positions") ||
		strings.Contains(msg, "UNIQUE constraint failed: trades")
}

// mergePrices folds a new trade into an open position. The entry price stays
// a convex combination of the constituent prices; decimal arithmetic keeps
// repeated merges from drifting.
func mergePrices(oldStake, oldEntry, tradeStake, tradePrice float64) (stake, entry float64) {
	if tradeStake == 0 {
		return oldStake, oldEntry
	}
	os := decimal.NewFromFloat(oldStake)
	ts := decimal.NewFromFloat(tradeStake)
	total := os.Add(ts)

	weighted := decimal.NewFromFloat(oldEntry).Mul(os).
		Add(decimal.NewFromFloat(tradePrice).Mul(ts))
	avg := weighted.Div(total)

	stake, _ = total.Float64()
	entry, _ = avg.Float64()
	return stake, entry
}

// ClosePosition realizes PnL at the exit price, writes the closing trade for
// audit, and marks the position closed.
func (l *Ledger) ClosePosition(ctx context.Context, marketID string, exitPrice float64, now time.Time) (domain.Trade, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.ClosePosition: begin: %w", err)
	}
	defer tx.Rollback()

	pos, err := scanPosition(tx.QueryRowContext(ctx, `
		SELECT market_id, side, stake, entry_price, mark_price, unrealized_pnl,
		       status, version, opened_at, updated_at
		FROM positions
		WHERE market_id = ? AND status = 'open'`, marketID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("storage.ClosePosition: %q: %w", marketID, domain.ErrNoPosition)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.ClosePosition: read: %w", err)
	}

	pnl := realizedPnL(pos.Stake, pos.EntryPrice, exitPrice)

	closing := domain.Trade{
		ID:         uuid.NewString(),
		MarketID:   marketID,
		Side:       pos.Side,
		Kind:       domain.TradeClose,
		Stake:      pos.Stake,
		EntryPrice: exitPrice,
		PnL:        pnl,
		Timestamp:  now,
	}
	if err := insertTrade(ctx, tx, closing, closing.ID); err != nil {
		return domain.Trade{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET status = 'closed', mark_price = ?, unrealized_pnl = 0,
		    version = version + 1, updated_at = ?
		WHERE market_id = ? AND status = 'open'`,
		exitPrice, fmtTime(now), marketID,
	); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.ClosePosition: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.ClosePosition: commit: %w", err)
	}
	return closing, nil
}

// realizedPnL is (exit − entry) × shares with shares = stake / entry.
func realizedPnL(stake, entryPrice, exitPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	shares := decimal.NewFromFloat(stake).Div(decimal.NewFromFloat(entryPrice))
	pnl := decimal.NewFromFloat(exitPrice).Sub(decimal.NewFromFloat(entryPrice)).Mul(shares)
	f, _ := pnl.Float64()
	return f
}

// OpenPositions returns every open position.
func (l *Ledger) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT market_id, side, stake, entry_price, mark_price, unrealized_pnl,
		       status, version, opened_at, updated_at
		FROM positions
		WHERE status = 'open'
		ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenPositions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.OpenPositions: scan: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// UpdateMark refreshes mark price and unrealized PnL only. Stake and entry
// price are untouched, so it cannot race the merge path.
func (l *Ledger) UpdateMark(ctx context.Context, marketID string, markPrice, unrealizedPnL float64) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE positions SET mark_price = ?, unrealized_pnl = ?, updated_at = ?
		WHERE market_id = ? AND status = 'open'`,
		markPrice, unrealizedPnL, fmtTime(time.Now().UTC()), marketID)
	if err != nil {
		return fmt.Errorf("storage.UpdateMark: %w", err)
	}
	return nil
}

// TradeHistory returns the most recent trades, newest first.
func (l *Ledger) TradeHistory(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, market_id, side, kind, stake, entry_price, pnl, timestamp, research_id
		FROM trades
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.TradeHistory: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.TradeHistory: scan: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func insertTrade(ctx context.Context, tx *sql.Tx, t domain.Trade, idempotencyKey string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, market_id, side, kind, stake, entry_price, pnl, timestamp, research_id, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MarketID, string(t.Side), string(t.Kind), t.Stake, t.EntryPrice,
		t.PnL, fmtTime(t.Timestamp), t.ResearchID, idempotencyKey)
	if err != nil {
		return fmt.Errorf("storage: insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (l *Ledger) tradeByIdemKey(ctx context.Context, key string) (domain.Trade, error) {
	return scanTrade(l.db.QueryRowContext(ctx, `
		SELECT id, market_id, side, kind, stake, entry_price, pnl, timestamp, research_id
		FROM trades
		WHERE idempotency_key = ?`, key))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var t domain.Trade
	var side, kind, ts string
	if err := row.Scan(&t.ID, &t.MarketID, &side, &kind, &t.Stake, &t.EntryPrice,
		&t.PnL, &ts, &t.ResearchID); err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.Side(side)
	t.Kind = domain.TradeKind(kind)
	t.Timestamp = parseTime(ts)
	return t, nil
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var p domain.Position
	var side, status, opened, updated string
	if err := row.Scan(&p.MarketID, &side, &p.Stake, &p.EntryPrice, &p.MarkPrice,
		&p.UnrealizedPnL, &status, &p.Version, &opened, &updated); err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.OpenedAt = parseTime(opened)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func scanProposal(row rowScanner) (domain.Proposal, error) {
	var p domain.Proposal
	var side, created string
	var accepted int
	if err := row.Scan(&p.ID, &p.MarketID, &side, &p.Stake, &p.Edge, &p.APR,
		&accepted, &created, &p.ResearchID); err != nil {
		return domain.Proposal{}, err
	}
	p.Side = domain.Side(side)
	p.Accepted = accepted == 1
	p.CreatedAt = parseTime(created)
	return p, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
