package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/database"
	"ladderexecutor/src/model"
)

// TraderRepository handles read operations for trader accounts.
type TraderRepository struct {
	db *gorm.DB
}

// NewTraderRepository creates a new repository instance using the main read/write database.
func NewTraderRepository() *TraderRepository {
	return &TraderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TraderRepository) WithDB(db *gorm.DB) *TraderRepository {
	return &TraderRepository{db: db}
}

// FindByID fetches a trader by primary ID.
// Returns (nil, nil) if the trader is not found.
func (r *TraderRepository) FindByID(ctx context.Context, id uint) (*model.Trader, error) {
	var trader model.Trader

	err := r.db.WithContext(ctx).First(&trader, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "TraderRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Trader not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "TraderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch trader by ID")

		return nil, err
	}

	return &trader, nil
}

// FindAll returns every trader ordered by name.
func (r *TraderRepository) FindAll(ctx context.Context) ([]model.Trader, error) {
	var traders []model.Trader

	err := r.db.WithContext(ctx).
		Order("name ASC").
		Find(&traders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TraderRepository",
			"op":   "FindAll",
		}).WithError(err).Error("Failed to list traders")

		return nil, err
	}

	return traders, nil
}

// Upsert creates the trader or, when a row with the same name already
// exists, updates its credentials and exchange in place.
func (r *TraderRepository) Upsert(ctx context.Context, trader *model.Trader) error {
	existing, err := r.FindByName(ctx, trader.Name)
	if err != nil {
		return err
	}

	if existing != nil {
		trader.ID = existing.ID
		trader.CreatedAt = existing.CreatedAt
	}

	err = r.db.WithContext(ctx).Save(trader).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TraderRepository",
			"op":   "Upsert",
			"name": trader.Name,
		}).WithError(err).Error("Failed to upsert trader")

		return err
	}

	return nil
}

// SetEnabled flips the enabled flag for the named trader.
func (r *TraderRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.Trader{}).
		Where("name = ?", name).
		Update("enabled", enabled)
	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TraderRepository",
			"op":   "SetEnabled",
			"name": name,
		}).WithError(result.Error).Error("Failed to update trader enabled flag")

		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// FindByName fetches a trader by unique name.
// Returns (nil, nil) if the trader is not found.
func (r *TraderRepository) FindByName(ctx context.Context, name string) (*model.Trader, error) {
	var trader model.Trader

	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&trader).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "TraderRepository",
			"op":   "FindByName",
			"name": name,
		}).WithError(err).Error("Failed to fetch trader by name")

		return nil, err
	}

	return &trader, nil
}
