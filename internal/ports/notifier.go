package ports

import (
	"github.com/alejandrodnm/polledge/internal/domain"
)

// Notifier renders engine output for a human. Implementations must not block
// the decision path on rendering failures.
type Notifier interface {
	PrintPositions(positions []domain.Position)
	PrintHistory(trades []domain.Trade)
	PrintPortfolio(state domain.PortfolioState)
}
