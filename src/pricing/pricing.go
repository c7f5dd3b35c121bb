package pricing

import (
	"github.com/shopspring/decimal"

	"ladderexecutor/src/model"
)

var hundred = decimal.NewFromInt(100)

// SnapToTick floors a price to the nearest multiple of the symbol's
// tick size. Exchanges reject prices between ticks.
func SnapToTick(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.LessThanOrEqual(decimal.Zero) {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// RoundQuantity rounds a quantity down to the symbol's quantity
// precision, never up: rounding up could exceed the allocated amount.
func RoundQuantity(quantity decimal.Decimal, precision int) decimal.Decimal {
	return quantity.RoundDown(int32(precision))
}

// EntryLegPrice offsets the mark price by the leg's configured ratio.
// The ratio carries its own sign (entry legs of a ladder sit below the
// mark for longs, above for shorts, per the trade configuration).
func EntryLegPrice(markPrice, ratioPercentage decimal.Decimal) decimal.Decimal {
	return markPrice.Mul(decimal.NewFromInt(1).Add(ratioPercentage.Div(hundred)))
}

// LegQuantity allocates the leg's share of the total trade amount at
// the given mark price.
func LegQuantity(totalTradeAmount, amountDivider, markPrice decimal.Decimal) decimal.Decimal {
	if amountDivider.LessThanOrEqual(decimal.Zero) || markPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return totalTradeAmount.Div(amountDivider).Div(markPrice)
}

// ProfitPrice derives the exit price from the weighted average entry
// price, oriented by side: LONG adds the profit ratio, SHORT subtracts
// it.
func ProfitPrice(averageEntry, profitRatioPercentage decimal.Decimal, side string) decimal.Decimal {
	ratio := profitRatioPercentage.Div(hundred)
	if side == model.SideShort {
		return averageEntry.Mul(decimal.NewFromInt(1).Sub(ratio))
	}
	return averageEntry.Mul(decimal.NewFromInt(1).Add(ratio))
}

// Fill is one executed entry leg.
type Fill struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// WeightedAverage returns the size-weighted mean fill price. The
// second return is false when total quantity is zero.
func WeightedAverage(fills []Fill) (avg decimal.Decimal, total decimal.Decimal, ok bool) {
	weightedSum := decimal.Zero
	for _, fill := range fills {
		total = total.Add(fill.Quantity)
		weightedSum = weightedSum.Add(fill.Quantity.Mul(fill.Price))
	}

	if total.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, false
	}

	return weightedSum.Div(total), total, true
}
