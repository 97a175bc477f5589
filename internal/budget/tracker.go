// Package budget tracks spend against an optional USD limit.
package budget

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// MaxDecimal is a sentinel value representing an effectively unlimited remaining budget.
var MaxDecimal = decimal.New(1, 18)

// Tracker accumulates usage and cost across turns.
// It is safe for concurrent use.
type Tracker struct {
	maxBudget  decimal.Decimal // 0 = unlimited
	totalCost  decimal.Decimal
	totalUsage types.Usage
	turns      int
	pricing    map[string]ModelPricing
	mu         sync.Mutex
}

// NewTracker creates a tracker. maxBudget of 0 means unlimited; nil pricing
// uses DefaultPricing.
func NewTracker(maxBudget decimal.Decimal, pricing map[string]ModelPricing) *Tracker {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Tracker{
		maxBudget: maxBudget,
		totalCost: decimal.Zero,
		pricing:   pricing,
	}
}

// Record adds one finished turn. The server-reported cost wins; when it is
// zero the cost is estimated from the model's pricing. Unknown models add
// tokens but no cost. Record returns the cost that was added.
func (b *Tracker) Record(res *types.ResultMessage, model string) decimal.Decimal {
	if res == nil {
		return decimal.Zero
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.turns++
	b.totalUsage.Add(res.Usage)

	cost := res.TotalCostUSD
	if cost.IsZero() {
		cost = b.estimate(model, res.Usage)
	}
	b.totalCost = b.totalCost.Add(cost)
	return cost
}

func (b *Tracker) estimate(model string, u types.Usage) decimal.Decimal {
	p, ok := Lookup(b.pricing, model)
	if !ok {
		return decimal.Zero
	}
	totalInput := u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
	return p.CostForInput(u.InputTokens, u.CacheReadInputTokens, u.CacheCreationInputTokens, totalInput).
		Add(p.CostForOutput(u.OutputTokens+u.ReasoningTokens, totalInput))
}

// TotalCost returns the cumulative cost.
func (b *Tracker) TotalCost() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalCost
}

// TotalUsage returns the cumulative token usage.
func (b *Tracker) TotalUsage() types.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalUsage
}

// Turns returns the number of recorded turns.
func (b *Tracker) Turns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.turns
}

// Remaining returns the remaining budget, or MaxDecimal when unlimited.
func (b *Tracker) Remaining() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxBudget.IsZero() {
		return MaxDecimal
	}
	return b.maxBudget.Sub(b.totalCost)
}

// Exhausted reports whether the total cost has reached the limit.
// Always false when unlimited.
func (b *Tracker) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxBudget.IsZero() {
		return false
	}
	return b.totalCost.GreaterThanOrEqual(b.maxBudget)
}
