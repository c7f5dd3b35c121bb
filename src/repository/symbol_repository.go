package repository

import (
	"context"
	"errors"
	"math/rand"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/database"
	"ladderexecutor/src/model"
)

// SymbolRepository reads the exchange-symbol reference data and keeps
// the last observed mark price current.
type SymbolRepository struct {
	db *gorm.DB
}

// NewSymbolRepository creates a new repository instance using the main read/write database.
func NewSymbolRepository() *SymbolRepository {
	return &SymbolRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *SymbolRepository) WithDB(db *gorm.DB) *SymbolRepository {
	return &SymbolRepository{db: db}
}

// FindByID fetches a symbol by primary ID.
// Returns (nil, nil) if the symbol is not found.
func (r *SymbolRepository) FindByID(ctx context.Context, id uint) (*model.ExchangeSymbol, error) {
	var symbol model.ExchangeSymbol

	err := r.db.WithContext(ctx).First(&symbol, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "SymbolRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch symbol by ID")

		return nil, err
	}

	return &symbol, nil
}

// FindBySymbol fetches a symbol by exchange and pair name.
// Returns (nil, nil) if the symbol is not found.
func (r *SymbolRepository) FindBySymbol(ctx context.Context, exchange, symbol string) (*model.ExchangeSymbol, error) {
	var row model.ExchangeSymbol

	err := r.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ?", exchange, symbol).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "SymbolRepository",
			"op":       "FindBySymbol",
			"exchange": exchange,
			"symbol":   symbol,
		}).WithError(err).Error("Failed to fetch symbol")

		return nil, err
	}

	return &row, nil
}

// FindEnabled lists every enabled symbol of the exchange.
func (r *SymbolRepository) FindEnabled(ctx context.Context, exchange string) ([]model.ExchangeSymbol, error) {
	var symbols []model.ExchangeSymbol

	err := r.db.WithContext(ctx).
		Where("exchange = ? AND enabled = ?", exchange, true).
		Order("symbol ASC").
		Find(&symbols).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "SymbolRepository",
			"op":       "FindEnabled",
			"exchange": exchange,
		}).WithError(err).Error("Failed to fetch enabled symbols")

		return nil, err
	}

	return symbols, nil
}

// PickEligibleRandom selects uniformly at random an enabled symbol of
// the exchange that is not in the excluded id set (symbols the trader
// already holds in an open position).
// Returns (nil, nil) when no symbol is eligible.
func (r *SymbolRepository) PickEligibleRandom(
	ctx context.Context,
	exchange string,
	excludedIDs []uint,
) (*model.ExchangeSymbol, error) {

	query := r.db.WithContext(ctx).
		Where("exchange = ? AND enabled = ?", exchange, true)
	if len(excludedIDs) > 0 {
		query = query.Where("id NOT IN ?", excludedIDs)
	}

	var symbols []model.ExchangeSymbol
	if err := query.Find(&symbols).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "SymbolRepository",
			"op":       "PickEligibleRandom",
			"exchange": exchange,
		}).WithError(err).Error("Failed to fetch eligible symbols")

		return nil, err
	}

	if len(symbols) == 0 {
		logger.WithFields(map[string]interface{}{
			"repo":     "SymbolRepository",
			"op":       "PickEligibleRandom",
			"exchange": exchange,
			"excluded": len(excludedIDs),
		}).Warn("No eligible symbol found")

		return nil, nil
	}

	picked := symbols[rand.Intn(len(symbols))]

	logger.WithFields(map[string]interface{}{
		"repo":     "SymbolRepository",
		"op":       "PickEligibleRandom",
		"exchange": exchange,
		"symbol":   picked.Symbol,
		"pool":     len(symbols),
	}).Info("Symbol selected for new position")

	return &picked, nil
}

// UpdateLastMarkPrice refreshes the observed mark price of a symbol.
// This is the trigger input of the re-pricing engine.
func (r *SymbolRepository) UpdateLastMarkPrice(ctx context.Context, id uint, markPrice decimal.Decimal) error {
	err := r.db.WithContext(ctx).
		Model(&model.ExchangeSymbol{}).
		Where("id = ?", id).
		Update("last_mark_price", markPrice).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SymbolRepository",
			"op":   "UpdateLastMarkPrice",
			"id":   id,
		}).WithError(err).Error("Failed to update last mark price")

		return err
	}

	return nil
}
