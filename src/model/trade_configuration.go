package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// LadderLeg is one planned order leg: its type, the price offset from
// the mark price in percent, and the divider applied to the position's
// total trade amount.
type LadderLeg struct {
	Type                 string          `json:"type"`
	PriceRatioPercentage decimal.Decimal `json:"price_ratio_percentage"`
	AmountDivider        decimal.Decimal `json:"amount_divider"`
}

// TradeConfiguration is the ladder plan snapshotted onto a position at
// creation time. Legs are ordered the way they must reach the
// exchange: LIMIT entries first, then the MARKET entry, then the
// PROFIT exit.
type TradeConfiguration struct {
	Legs                  []LadderLeg     `json:"legs"`
	ProfitPercentageRatio decimal.Decimal `json:"profit_percentage_ratio"`
}

// ParseTradeConfiguration decodes the JSON snapshot stored on a
// position and rejects plans without a MARKET or PROFIT leg.
func ParseTradeConfiguration(raw string) (*TradeConfiguration, error) {
	var cfg TradeConfiguration
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("invalid trade configuration: %w", err)
	}

	var hasMarket, hasProfit bool
	for _, leg := range cfg.Legs {
		switch leg.Type {
		case OrderTypeMarket:
			hasMarket = true
		case OrderTypeProfit:
			hasProfit = true
		case OrderTypeLimit:
		default:
			return nil, fmt.Errorf("trade configuration has unknown leg type %q", leg.Type)
		}
		if leg.AmountDivider.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("trade configuration leg %q has non-positive amount divider", leg.Type)
		}
	}

	if !hasMarket || !hasProfit {
		return nil, fmt.Errorf("trade configuration must contain a MARKET and a PROFIT leg")
	}

	return &cfg, nil
}

// Encode serializes the plan back to its storage form.
func (c *TradeConfiguration) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode trade configuration: %w", err)
	}
	return string(b), nil
}
