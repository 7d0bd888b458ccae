package ports

import (
	"context"

	"github.com/alejandrodnm/polledge/internal/domain"
)

// MarketFeed supplies immutable market snapshots. Implemented externally;
// the engine never builds its own market-data client.
type MarketFeed interface {
	// FetchSnapshot returns the current snapshot for one market.
	FetchSnapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error)
}

// ResearchProvider produces probabilistic estimates for a listing.
// An external collaborator (LLM research orchestration lives elsewhere).
type ResearchProvider interface {
	Research(ctx context.Context, listing domain.Listing) (domain.ResearchEstimate, error)
}
