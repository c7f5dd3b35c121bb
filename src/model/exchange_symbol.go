package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeSymbol is per-exchange trading-pair metadata. The rows are
// owned by a separate ingestion pipeline; this service only reads the
// precision/tick data and refreshes LastMarkPrice as a trigger input
// for the re-pricing engine.
type ExchangeSymbol struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Exchange string `gorm:"size:50;index" json:"exchange"`
	Symbol   string `gorm:"size:50;index" json:"symbol"`

	// Side is the configured trade side for this pair (LONG or SHORT),
	// copied onto positions at dispatch time.
	Side string `gorm:"size:10" json:"side"`

	PricePrecision    int `json:"price_precision"`
	QuantityPrecision int `json:"quantity_precision"`
	QuotePrecision    int `json:"quote_precision"`

	TickSize      decimal.Decimal `gorm:"type:numeric" json:"tick_size"`
	LastMarkPrice decimal.Decimal `gorm:"type:numeric" json:"last_mark_price"`

	Enabled bool `gorm:"not null;default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExchangeSymbol) TableName() string {
	return "exchange_symbols"
}
