package telemetry

import "sync"

// ModelUsage is the accumulated spend for one model.
type ModelUsage struct {
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// CostTracker accumulates token and dollar spend across all tasks in the
// process, broken down by model.
type CostTracker struct {
	mu       sync.Mutex
	total    ModelUsage
	perModel map[string]ModelUsage
}

func NewCostTracker() *CostTracker {
	return &CostTracker{perModel: make(map[string]ModelUsage)}
}

func (c *CostTracker) Add(model string, tokens int64, cost float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total.Tokens += tokens
	c.total.CostUSD += cost
	u := c.perModel[model]
	u.Tokens += tokens
	u.CostUSD += cost
	c.perModel[model] = u
}

// Snapshot returns the running totals and a copy of the per-model breakdown.
func (c *CostTracker) Snapshot() (ModelUsage, map[string]ModelUsage) {
	if c == nil {
		return ModelUsage{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ModelUsage, len(c.perModel))
	for k, v := range c.perModel {
		out[k] = v
	}
	return c.total, out
}
