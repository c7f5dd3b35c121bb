package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionStatusNew       = "new"
	PositionStatusSyncing   = "syncing"
	PositionStatusSynced    = "synced"
	PositionStatusLocked    = "locked"
	PositionStatusClosed    = "closed"
	PositionStatusCancelled = "cancelled"
	PositionStatusError     = "error"

	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Position is one leveraged trade owned by a trader. It owns the batch
// of ladder Orders generated from its TradeConfiguration snapshot.
// Terminal states are closed, cancelled and error. The locked status is
// a transient re-entrancy guard taken during re-pricing and closing.
type Position struct {
	ID               uint `gorm:"primaryKey" json:"id"`
	TraderID         uint `gorm:"index" json:"trader_id"`
	ExchangeSymbolID uint `gorm:"index" json:"exchange_symbol_id"`

	Status string `gorm:"size:20;not null;default:new;index" json:"status"`
	Side   string `gorm:"size:10" json:"side"`

	InitialMarkPrice             decimal.Decimal `gorm:"type:numeric" json:"initial_mark_price"`
	TotalTradeAmount             decimal.Decimal `gorm:"type:numeric" json:"total_trade_amount"`
	Leverage                     int             `json:"leverage"`
	InitialProfitPercentageRatio decimal.Decimal `gorm:"type:numeric" json:"initial_profit_percentage_ratio"`
	UnrealizedPnl                decimal.Decimal `gorm:"type:numeric" json:"unrealized_pnl"`
	RealizedPnl                  decimal.Decimal `gorm:"type:numeric" json:"realized_pnl"`

	// TradeConfiguration is the JSON snapshot of the ladder plan used to
	// generate this position's orders.
	TradeConfiguration string `gorm:"type:text" json:"trade_configuration"`

	// Comments carries operator-visible failure text.
	Comments string `gorm:"type:text" json:"comments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Orders []Order `gorm:"foreignKey:PositionID" json:"orders,omitempty"`
}

func (Position) TableName() string {
	return "positions"
}

// IsTerminal reports whether the position can no longer change state.
func (p *Position) IsTerminal() bool {
	switch p.Status {
	case PositionStatusClosed, PositionStatusCancelled, PositionStatusError:
		return true
	}
	return false
}
