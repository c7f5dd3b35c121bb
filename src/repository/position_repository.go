package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/database"
	"ladderexecutor/src/model"
)

// PositionRepository handles read/write operations for positions.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main read/write database.
func NewPositionRepository() *PositionRepository {
	return &PositionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a new position. The given position will be updated
// with the generated ID and timestamps.
func (r *PositionRepository) Create(ctx context.Context, position *model.Position) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "PositionRepository",
		"op":        "Create",
		"trader_id": position.TraderID,
		"status":    position.Status,
	}).Debug("Creating new position")

	if err := r.db.WithContext(ctx).Create(position).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create position")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.ID,
	}).Info("Position created successfully")

	return nil
}

// FindByID fetches a single position with its orders preloaded.
// Returns (nil, nil) if the position is not found.
func (r *PositionRepository) FindByID(ctx context.Context, id uint) (*model.Position, error) {
	var position model.Position

	err := r.db.WithContext(ctx).
		Preload("Orders").
		First(&position, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "PositionRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Position not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch position by ID")

		return nil, err
	}

	return &position, nil
}

// FindLatest returns the latest positions ordered from newest to oldest.
func (r *PositionRepository) FindLatest(ctx context.Context, limit int) ([]model.Position, error) {
	if limit <= 0 {
		limit = 20
	}

	var positions []model.Position
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&positions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "PositionRepository",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest positions")

		return nil, err
	}

	return positions, nil
}

// Save persists all changed fields of an already-loaded position.
func (r *PositionRepository) Save(ctx context.Context, position *model.Position) error {
	if err := r.db.WithContext(ctx).Save(position).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Save",
			"position_id": position.ID,
		}).WithError(err).Error("Failed to save position")

		return err
	}

	return nil
}

// UpdateStatus updates only the status of the given position ID.
func (r *PositionRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ?", id).
		Update("status", status).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PositionRepository",
			"op":     "UpdateStatus",
			"id":     id,
			"status": status,
		}).WithError(err).Error("Failed to update position status")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "PositionRepository",
		"op":     "UpdateStatus",
		"id":     id,
		"status": status,
	}).Info("Position status updated")

	return nil
}

// TryTransition atomically moves the position from one expected status
// to another. It reports false when the position was not in the
// expected status, which callers use as a lightweight row guard
// (e.g. synced -> locked around re-pricing and closing).
func (r *PositionRepository) TryTransition(ctx context.Context, id uint, from, to string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "TryTransition",
			"id":   id,
			"from": from,
			"to":   to,
		}).WithError(res.Error).Error("Failed to transition position status")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// MarkError sets the position to error with an operator-visible comment.
func (r *PositionRepository) MarkError(ctx context.Context, id uint, comment string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   model.PositionStatusError,
			"comments": comment,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "MarkError",
			"id":   id,
		}).WithError(err).Error("Failed to mark position as error")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "PositionRepository",
		"op":      "MarkError",
		"id":      id,
		"comment": comment,
	}).Warn("Position marked as error")

	return nil
}

// FindOpenSymbolIDs returns the exchange symbol ids currently held by
// the trader in any position that is not error or closed. Used to keep
// symbol selection away from pairs already traded.
func (r *PositionRepository) FindOpenSymbolIDs(ctx context.Context, traderID uint) ([]uint, error) {
	var ids []uint

	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("trader_id = ?", traderID).
		Where("status NOT IN ?", []string{model.PositionStatusError, model.PositionStatusClosed}).
		Where("exchange_symbol_id <> 0").
		Distinct().
		Pluck("exchange_symbol_id", &ids).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "PositionRepository",
			"op":        "FindOpenSymbolIDs",
			"trader_id": traderID,
		}).WithError(err).Error("Failed to fetch held symbol ids")

		return nil, err
	}

	return ids, nil
}

// FindRepriceCandidates returns positions whose exit order may need a
// weighted-average re-price: anything currently syncing or synced.
func (r *PositionRepository) FindRepriceCandidates(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position

	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{model.PositionStatusSyncing, model.PositionStatusSynced}).
		Order("id ASC").
		Find(&positions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindRepriceCandidates",
		}).WithError(err).Error("Failed to fetch reprice candidates")

		return nil, err
	}

	return positions, nil
}
