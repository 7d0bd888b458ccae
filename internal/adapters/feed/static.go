package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alejandrodnm/polledge/internal/domain"
)

// snapshotFile is the JSON shape of one fixture entry.
type snapshotFile struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	PriceYes     float64   `json:"price_yes"`
	PriceNo      float64   `json:"price_no"`
	ResolvesAt   time.Time `json:"resolves_at"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	Volume24h    float64   `json:"volume_24h"`
}

// Static implements ports.MarketFeed from a JSON fixture file. Used for dry
// runs and the CLI evaluate path; live market-data clients live outside this
// repository.
type Static struct {
	snapshots map[string]domain.MarketSnapshot
}

// Load reads a JSON array of market snapshots.
func Load(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feed.Load: %w", err)
	}

	var entries []snapshotFile
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("feed.Load: parse %q: %w", path, err)
	}

	s := &Static{snapshots: make(map[string]domain.MarketSnapshot, len(entries))}
	for _, e := range entries {
		s.snapshots[e.ID] = domain.MarketSnapshot{
			ID:       e.ID,
			Question: e.Question,
			Prices: map[domain.Side]float64{
				domain.SideYes: e.PriceYes,
				domain.SideNo:  e.PriceNo,
			},
			ResolvesAt:   e.ResolvesAt,
			LiquidityUSD: e.LiquidityUSD,
			Volume24h:    e.Volume24h,
		}
	}
	return s, nil
}

// FromSnapshots builds a feed from in-memory snapshots, for tests.
func FromSnapshots(snapshots ...domain.MarketSnapshot) *Static {
	s := &Static{snapshots: make(map[string]domain.MarketSnapshot, len(snapshots))}
	for _, snap := range snapshots {
		s.snapshots[snap.ID] = snap
	}
	return s
}

// FetchSnapshot returns the fixture snapshot for a market.
func (s *Static) FetchSnapshot(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	snap, ok := s.snapshots[marketID]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("feed.FetchSnapshot: unknown market %q", marketID)
	}
	return snap, nil
}

// MarketIDs lists every market in the fixture.
func (s *Static) MarketIDs() []string {
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	return ids
}
