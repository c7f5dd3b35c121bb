package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ladderexecutor/src/gateway"
)

func TestMaxLeverageForNotional(t *testing.T) {
	brackets := []gateway.LeverageBracket{
		{Leverage: 20, NotionalCap: decimal.NewFromInt(50000)},
		{Leverage: 10, NotionalCap: decimal.NewFromInt(100000)},
		{Leverage: 5, NotionalCap: decimal.NewFromInt(250000)},
	}

	// 6000 * 20 = 120000 exceeds 50000; 6000 * 10 = 60000 fits 100000.
	require.Equal(t, 10, MaxLeverageForNotional(brackets, decimal.NewFromInt(6000)))

	// Small enough for the top tier.
	require.Equal(t, 20, MaxLeverageForNotional(brackets, decimal.NewFromInt(2000)))

	// Nothing fits: fall back to 1x.
	require.Equal(t, 1, MaxLeverageForNotional(brackets, decimal.NewFromInt(1000000)))

	require.Equal(t, 1, MaxLeverageForNotional(nil, decimal.NewFromInt(100)))
}
