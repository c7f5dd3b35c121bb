package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trader owns positions and carries the per-account trading settings
// used when a new position is dispatched. API credentials are stored
// AES-GCM encrypted.
type Trader struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:100;uniqueIndex" json:"name"`
	Exchange string `gorm:"size:50;index" json:"exchange"`

	APIKeyHash    string `gorm:"size:255" json:"-"`
	APISecretHash string `gorm:"size:255" json:"-"`

	// TradePercentage is the share of the available balance allocated
	// to a new position when no explicit trade amount is given.
	TradePercentage decimal.Decimal `gorm:"type:numeric" json:"trade_percentage"`
	MinimumBalance  decimal.Decimal `gorm:"type:numeric" json:"minimum_balance"`
	PlannedLeverage int             `gorm:"not null;default:1" json:"planned_leverage"`

	// DefaultTradeConfiguration seeds new positions that are created
	// without an explicit ladder plan.
	DefaultTradeConfiguration string `gorm:"type:text" json:"default_trade_configuration,omitempty"`

	Enabled bool `gorm:"not null;default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Trader) TableName() string {
	return "traders"
}
