package engine

import (
	"time"
)

// Cycle collects the results of one evaluation pass. The orchestrator owns
// it and hands it to each Evaluate call; there is no ambient per-market
// state anywhere else. Not safe for concurrent writers: one cycle belongs to
// one evaluation loop.
type Cycle struct {
	Started time.Time
	results map[string]Result
}

// NewCycle starts an empty evaluation pass.
func NewCycle(now time.Time) *Cycle {
	return &Cycle{Started: now, results: make(map[string]Result)}
}

func (c *Cycle) record(marketID string, r Result) {
	if c == nil {
		return
	}
	c.results[marketID] = r
}

// Result returns the recorded evaluation for a market, if any.
func (c *Cycle) Result(marketID string) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	r, ok := c.results[marketID]
	return r, ok
}

// Qualified returns the market ids that produced a proposal this pass.
func (c *Cycle) Qualified() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.results))
	for id, r := range c.results {
		if r.Qualified() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len is the number of markets evaluated this pass.
func (c *Cycle) Len() int {
	if c == nil {
		return 0
	}
	return len(c.results)
}
