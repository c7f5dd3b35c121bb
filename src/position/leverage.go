package position

import (
	"sort"

	"github.com/shopspring/decimal"

	"ladderexecutor/src/gateway"
)

// MaxLeverageForNotional returns the largest leverage tier whose
// notional cap is not exceeded by tradeAmount multiplied by that
// tier's leverage, scanning the bracket table ascending. Falls back to
// 1x when every bracket is exceeded.
func MaxLeverageForNotional(brackets []gateway.LeverageBracket, tradeAmount decimal.Decimal) int {
	sorted := make([]gateway.LeverageBracket, len(brackets))
	copy(sorted, brackets)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Leverage < sorted[j].Leverage
	})

	best := 1
	for _, bracket := range sorted {
		if bracket.Leverage < 1 {
			continue
		}
		notional := tradeAmount.Mul(decimal.NewFromInt(int64(bracket.Leverage)))
		if notional.LessThanOrEqual(bracket.NotionalCap) && bracket.Leverage > best {
			best = bracket.Leverage
		}
	}

	return best
}
