package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderTypeMarket         = "MARKET"
	OrderTypeLimit          = "LIMIT"
	OrderTypeProfit         = "PROFIT"
	OrderTypeCancelPosition = "CANCEL-POSITION"

	OrderStatusNew       = "new"
	OrderStatusSynced    = "synced"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusError     = "error"
)

// Order is one exchange order leg belonging to a Position's ladder.
// Rows are created in a batch when the position is dispatched (all
// LIMIT legs, one MARKET, one PROFIT) and are never deleted.
type Order struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	PositionID uint `gorm:"index" json:"position_id"`

	Type   string `gorm:"size:20;not null" json:"type"`
	Status string `gorm:"size:20;not null;default:new;index" json:"status"`

	// PriceRatioPercentage is the leg's offset from the mark price,
	// AmountDivider the fraction of the position's total trade amount
	// allocated to this leg.
	PriceRatioPercentage decimal.Decimal `gorm:"type:numeric" json:"price_ratio_percentage"`
	AmountDivider        decimal.Decimal `gorm:"type:numeric" json:"amount_divider"`

	EntryAveragePrice  decimal.Decimal `gorm:"type:numeric" json:"entry_average_price"`
	EntryQuantity      decimal.Decimal `gorm:"type:numeric" json:"entry_quantity"`
	FilledAveragePrice decimal.Decimal `gorm:"type:numeric" json:"filled_average_price"`
	FilledQuantity     decimal.Decimal `gorm:"type:numeric" json:"filled_quantity"`

	// OrderExchangeSystemID is the id assigned by the exchange,
	// ApiResult the raw response snapshot of the last exchange call.
	OrderExchangeSystemID string `gorm:"size:100;index" json:"order_exchange_system_id"`
	ApiResult             string `gorm:"type:text" json:"api_result,omitempty"`

	Comments string `gorm:"type:text" json:"comments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
