package budget

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"
)

// ModelPricing holds per-model token prices in USD per million tokens.
type ModelPricing struct {
	InputPerMTok         decimal.Decimal
	OutputPerMTok        decimal.Decimal
	LongInputPerMTok     decimal.Decimal // premium rate above LongContextThreshold
	LongOutputPerMTok    decimal.Decimal
	CacheWritePerMTok    decimal.Decimal
	CacheReadPerMTok     decimal.Decimal
	LongContextThreshold int64 // 0 = no long context pricing
}

var million = decimal.NewFromInt(1_000_000)

func (p ModelPricing) long(totalInput int64) bool {
	return p.LongContextThreshold > 0 && totalInput > p.LongContextThreshold
}

// CostForInput prices plain input, cache reads and cache writes. The long
// context rate applies when totalInput exceeds the threshold.
func (p ModelPricing) CostForInput(input, cacheRead, cacheWrite, totalInput int64) decimal.Decimal {
	rate := p.InputPerMTok
	if p.long(totalInput) {
		rate = p.LongInputPerMTok
	}

	cost := decimal.NewFromInt(input).Mul(rate).Div(million)
	cost = cost.Add(decimal.NewFromInt(cacheRead).Mul(p.CacheReadPerMTok).Div(million))
	return cost.Add(decimal.NewFromInt(cacheWrite).Mul(p.CacheWritePerMTok).Div(million))
}

// CostForOutput prices output tokens; reasoning tokens are billed as output.
func (p ModelPricing) CostForOutput(output, totalInput int64) decimal.Decimal {
	rate := p.OutputPerMTok
	if p.long(totalInput) {
		rate = p.LongOutputPerMTok
	}
	return decimal.NewFromInt(output).Mul(rate).Div(million)
}

// DefaultPricing contains built-in pricing for Claude models, keyed by
// Anthropic model id.
var DefaultPricing = map[string]ModelPricing{
	string(anthropic.ModelClaudeOpus4_6): {
		InputPerMTok:         decimal.NewFromFloat(5),
		OutputPerMTok:        decimal.NewFromFloat(25),
		LongInputPerMTok:     decimal.NewFromFloat(10),
		LongOutputPerMTok:    decimal.NewFromFloat(37.5),
		CacheWritePerMTok:    decimal.NewFromFloat(6.25),
		CacheReadPerMTok:     decimal.NewFromFloat(0.5),
		LongContextThreshold: 200_000,
	},
	string(anthropic.ModelClaudeSonnet4_5): {
		InputPerMTok:         decimal.NewFromFloat(3),
		OutputPerMTok:        decimal.NewFromFloat(15),
		LongInputPerMTok:     decimal.NewFromFloat(6),
		LongOutputPerMTok:    decimal.NewFromFloat(22.5),
		CacheWritePerMTok:    decimal.NewFromFloat(3.75),
		CacheReadPerMTok:     decimal.NewFromFloat(0.3),
		LongContextThreshold: 200_000,
	},
	string(anthropic.ModelClaudeHaiku4_5): {
		InputPerMTok:      decimal.NewFromFloat(1),
		OutputPerMTok:     decimal.NewFromFloat(5),
		CacheWritePerMTok: decimal.NewFromFloat(1.25),
		CacheReadPerMTok:  decimal.NewFromFloat(0.1),
	},
}

// Lookup finds pricing for model. OpenCode model ids may carry a provider
// prefix ("anthropic/claude-sonnet-4-5") or a date suffix; both resolve to
// the longest matching key.
func Lookup(pricing map[string]ModelPricing, model string) (ModelPricing, bool) {
	if p, ok := pricing[model]; ok {
		return p, true
	}
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	var (
		best    ModelPricing
		bestLen int
	)
	for key, p := range pricing {
		if strings.HasPrefix(model, key) && len(key) > bestLen {
			best, bestLen = p, len(key)
		}
	}
	return best, bestLen > 0
}
