package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const validPlan = `{
	"legs": [
		{"type": "LIMIT", "price_ratio_percentage": "-1", "amount_divider": "4"},
		{"type": "LIMIT", "price_ratio_percentage": "-2", "amount_divider": "4"},
		{"type": "MARKET", "price_ratio_percentage": "0", "amount_divider": "2"},
		{"type": "PROFIT", "price_ratio_percentage": "0", "amount_divider": "1"}
	],
	"profit_percentage_ratio": "1.5"
}`

func TestParseTradeConfiguration(t *testing.T) {
	cfg, err := ParseTradeConfiguration(validPlan)
	require.NoError(t, err)
	require.Len(t, cfg.Legs, 4)
	require.Equal(t, "1.5", cfg.ProfitPercentageRatio.String())

	encoded, err := cfg.Encode()
	require.NoError(t, err)

	again, err := ParseTradeConfiguration(encoded)
	require.NoError(t, err)
	require.Len(t, again.Legs, 4)
}

func TestParseTradeConfigurationRejectsBadPlans(t *testing.T) {
	_, err := ParseTradeConfiguration("{")
	require.Error(t, err)

	// Missing MARKET leg.
	_, err = ParseTradeConfiguration(`{"legs":[{"type":"PROFIT","amount_divider":"1"}]}`)
	require.Error(t, err)

	// Missing PROFIT leg.
	_, err = ParseTradeConfiguration(`{"legs":[{"type":"MARKET","amount_divider":"1"}]}`)
	require.Error(t, err)

	// Unknown leg type.
	_, err = ParseTradeConfiguration(`{"legs":[{"type":"STOP","amount_divider":"1"}]}`)
	require.Error(t, err)

	// Non-positive divider.
	_, err = ParseTradeConfiguration(`{"legs":[
		{"type":"MARKET","amount_divider":"0"},
		{"type":"PROFIT","amount_divider":"1"}]}`)
	require.Error(t, err)
}
