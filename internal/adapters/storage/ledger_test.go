package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polledge/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func entryTrade(marketID string, stake, price float64) domain.Trade {
	return domain.Trade{
		ID:         uuid.NewString(),
		MarketID:   marketID,
		Side:       domain.SideYes,
		Kind:       domain.TradeEntry,
		Stake:      stake,
		EntryPrice: price,
		Timestamp:  time.Now().UTC(),
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	l1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	// Reopening must skip already-applied migrations without error.
	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var n int
	require.NoError(t, l2.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestRecordTradeSeedsPosition(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, entryTrade("mkt-1", 100, 0.40), "key-1")
	require.NoError(t, err)

	positions, err := l.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	pos := positions[0]
	assert.Equal(t, "mkt-1", pos.MarketID)
	assert.Equal(t, domain.SideYes, pos.Side)
	assert.Equal(t, 100.0, pos.Stake)
	assert.Equal(t, 0.40, pos.EntryPrice)
	assert.Equal(t, int64(1), pos.Version)
}

func TestRecordTradeMergesWeightedEntryPrice(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, entryTrade("mkt-1", 100, 0.40), "key-1")
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, entryTrade("mkt-1", 50, 0.60), "key-2")
	require.NoError(t, err)

	positions, err := l.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	pos := positions[0]
	assert.Equal(t, 150.0, pos.Stake)
	// (100*0.40 + 50*0.60) / 150
	assert.InDelta(t, 0.466667, pos.EntryPrice, 1e-6)
	assert.Equal(t, int64(2), pos.Version)
}

func TestRecordTradeZeroStakeMergeKeepsEntryPrice(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, entryTrade("mkt-1", 100, 0.40), "key-1")
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, entryTrade("mkt-1", 0, 0.99), "key-2")
	require.NoError(t, err)

	positions, err := l.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].Stake)
	assert.Equal(t, 0.40, positions[0].EntryPrice)
}

func TestRecordTradeIdempotencyReplay(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, err := l.RecordTrade(ctx, entryTrade("mkt-1", 100, 0.40), "key-1")
	require.NoError(t, err)

	// Same key, different payload: the original trade wins and nothing
	// merges a second time.
	replay, err := l.RecordTrade(ctx, entryTrade("mkt-1", 999, 0.90), "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, first.Stake, replay.Stake)

	positions, err := l.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].Stake)
}

func TestRecordTradeSideConflict(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, entryTrade("mkt-1", 100, 0.40), "key-1")
	require.NoError(t, err)

	opposing := entryTrade("mkt-1", 50, 0.55)
	opposing.Side = domain.SideNo
	_, err = l.RecordTrade(ctx, opposing, "key-2")
	require.ErrorIs(t, err, domain.ErrSideConflict)

	// Conflict must leave the ledger untouched.
	history, err := l.TradeHistory(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// After an explicit close the opposite side is allowed again.
	_, err = l.ClosePosition(ctx, "mkt-1", 0.45, time.Now().UTC())
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, opposing, "key-3")
	require.NoError(t, err)
}

func TestRecordTradeRejectsNegativeStake(t *testing.T) {
	l := newTestLedger(t)

	tr := entryTrade("mkt-1", -10, 0.40)
	_, err := l.RecordTrade(context.Background(), tr, "key-1")
	require.ErrorIs(t, err, domain.ErrInvalidStake)
}

func TestClosePositionRealizesPnL(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, entryTrade("mkt-1", 100, 0.40), "key-1")
	require.NoError(t, err)

	closing, err := l.ClosePosition(ctx, "mkt-1", 0.60, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.TradeClose, closing.Kind)
	// 250 shares × (0.60 − 0.40)
	assert.InDelta(t, 50.0, closing.PnL, 1e-9)

	positions, err := l.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	_, err = l.ClosePosition(ctx, "mkt-1", 0.60, time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestUpdateMark(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordTrade(ctx, entryTrade("mkt-1", 100, 0.40), "key-1")
	require.NoError(t, err)

	require.NoError(t, l.UpdateMark(ctx, "mkt-1", 0.55, 37.5))

	positions, err := l.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 0.55, positions[0].MarkPrice)
	assert.Equal(t, 37.5, positions[0].UnrealizedPnL)
	// Mark refresh must not bump the merge version.
	assert.Equal(t, int64(1), positions[0].Version)
}

func TestProposalLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.PendingProposal(ctx, "mkt-1")
	require.ErrorIs(t, err, domain.ErrNoProposal)

	p := domain.Proposal{
		ID:        uuid.NewString(),
		MarketID:  "mkt-1",
		Side:      domain.SideYes,
		Stake:     700,
		Edge:      0.10,
		APR:       0.66,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, l.SaveProposal(ctx, p))

	got, err := l.PendingProposal(ctx, "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.False(t, got.Accepted)

	require.NoError(t, l.MarkAccepted(ctx, p.ID, 500, domain.SideYes))

	_, err = l.PendingProposal(ctx, "mkt-1")
	require.ErrorIs(t, err, domain.ErrNoProposal)

	// Accepting twice is an error, not a silent overwrite.
	err = l.MarkAccepted(ctx, p.ID, 500, domain.SideYes)
	require.ErrorIs(t, err, domain.ErrNoProposal)
}

func TestMetricsFold(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// Two positions, close one at a gain and one at a loss.
	_, err := l.RecordTrade(ctx, entryTrade("mkt-1", 100, 0.40), "key-1")
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, entryTrade("mkt-2", 200, 0.50), "key-2")
	require.NoError(t, err)
	_, err = l.RecordTrade(ctx, entryTrade("mkt-3", 50, 0.25), "key-3")
	require.NoError(t, err)

	_, err = l.ClosePosition(ctx, "mkt-1", 0.60, time.Now().UTC()) // +50
	require.NoError(t, err)
	_, err = l.ClosePosition(ctx, "mkt-2", 0.45, time.Now().UTC()) // -20
	require.NoError(t, err)

	state, err := l.Metrics(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, state.OpenPositions)
	assert.Equal(t, 50.0, state.CashInPlay)
	assert.Equal(t, 2, state.ClosedTrades)
	assert.InDelta(t, 30.0, state.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.5, state.WinRate, 1e-9)
	assert.InDelta(t, 50.0, state.LargestWin, 1e-9)
	assert.InDelta(t, -20.0, state.LargestLoss, 1e-9)
	// starting + realized − in play
	assert.InDelta(t, 980.0, state.CashAvailable, 1e-9)

	// Metrics is a read-only fold: a second call reports the same state.
	again, err := l.Metrics(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, state, again)
}

func TestRecordTradeAcrossTwoHandles(t *testing.T) {
	// The CLI and the monitor daemon share one database file through
	// separate connections; contention must be absorbed, not surfaced.
	path := filepath.Join(t.TempDir(), "ledger.db")
	l1, err := Open(path)
	require.NoError(t, err)
	defer l1.Close()
	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	ctx := context.Background()
	handles := []*Ledger{l1, l2}

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			price := 0.40 + float64(i%3)*0.10
			_, err := handles[i%2].RecordTrade(ctx, entryTrade("mkt-1", 10, price), fmt.Sprintf("xkey-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	positions, err := l1.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, float64(writers)*10, positions[0].Stake, 1e-9)
	assert.GreaterOrEqual(t, positions[0].EntryPrice, 0.40)
	assert.LessOrEqual(t, positions[0].EntryPrice, 0.60)

	// Both handles see the same committed log.
	history, err := l2.TradeHistory(ctx, writers+1)
	require.NoError(t, err)
	assert.Len(t, history, writers)
}

func TestConcurrentMergesPreserveStakeSum(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			price := 0.30 + float64(i%5)*0.10
			_, err := l.RecordTrade(ctx, entryTrade("mkt-1", 10, price), fmt.Sprintf("key-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	positions, err := l.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 100.0, positions[0].Stake, 1e-9)
	// Averaged entry price stays inside the traded price range.
	assert.GreaterOrEqual(t, positions[0].EntryPrice, 0.30)
	assert.LessOrEqual(t, positions[0].EntryPrice, 0.70)

	history, err := l.TradeHistory(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, history, writers)
}
