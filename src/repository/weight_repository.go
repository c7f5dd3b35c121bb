package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/database"
	"ladderexecutor/src/model"
)

// WeightRepository owns the shared rate-limit bookkeeping: the learned
// per-endpoint request cost and the per-address rolling minute
// counters. Counter updates run read-then-write inside one transaction
// so concurrent pollers hitting the same address cannot lose updates.
type WeightRepository struct {
	db *gorm.DB
}

// NewWeightRepository creates a new repository instance using the main read/write database.
func NewWeightRepository() *WeightRepository {
	return &WeightRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *WeightRepository) WithDB(db *gorm.DB) *WeightRepository {
	return &WeightRepository{db: db}
}

// EndpointWeight returns the learned request cost of a path, creating
// the record with the default cost of 1 when absent.
func (r *WeightRepository) EndpointWeight(ctx context.Context, exchange, path string) (int64, error) {
	var record model.EndpointWeightRecord

	err := r.db.WithContext(ctx).
		Where("exchange = ? AND path = ?", exchange, path).
		First(&record).Error
	if err == nil {
		return record.Weight, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.WithFields(map[string]interface{}{
			"repo":     "WeightRepository",
			"op":       "EndpointWeight",
			"exchange": exchange,
			"path":     path,
		}).WithError(err).Error("Failed to fetch endpoint weight")

		return 0, err
	}

	record = model.EndpointWeightRecord{Exchange: exchange, Path: path, Weight: 1}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		// A concurrent poller may have created it first; re-read.
		var again model.EndpointWeightRecord
		if err2 := r.db.WithContext(ctx).
			Where("exchange = ? AND path = ?", exchange, path).
			First(&again).Error; err2 == nil {
			return again.Weight, nil
		}
		return 0, err
	}

	return record.Weight, nil
}

// RefineEndpointWeight stores an observed request cost for a path.
func (r *WeightRepository) RefineEndpointWeight(ctx context.Context, exchange, path string, weight int64) error {
	if weight <= 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Model(&model.EndpointWeightRecord{}).
		Where("exchange = ? AND path = ?", exchange, path).
		Update("weight", weight).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "WeightRepository",
			"op":       "RefineEndpointWeight",
			"exchange": exchange,
			"path":     path,
			"weight":   weight,
		}).WithError(err).Error("Failed to refine endpoint weight")
	}

	return err
}

// AddressWeight returns the address's weight for the current minute
// window. A record from a previous minute counts as zero.
func (r *WeightRepository) AddressWeight(ctx context.Context, exchange, address string, now time.Time) (int64, error) {
	var record model.IpWeightRecord

	err := r.db.WithContext(ctx).
		Where("exchange = ? AND address = ?", exchange, address).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "WeightRepository",
			"op":       "AddressWeight",
			"exchange": exchange,
			"address":  address,
		}).WithError(err).Error("Failed to fetch address weight")

		return 0, err
	}

	if !sameMinute(record.LastResetAt, now) {
		return 0, nil
	}

	return record.CurrentWeight, nil
}

// AddWeight folds delta into the address's rolling counter, resetting
// the window when the wall-clock minute has changed since the last
// update. The read and the write share one transaction.
func (r *WeightRepository) AddWeight(ctx context.Context, exchange, address string, delta int64, now time.Time) (int64, error) {
	var total int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record model.IpWeightRecord

		err := tx.Where("exchange = ? AND address = ?", exchange, address).
			First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = model.IpWeightRecord{
				Exchange:      exchange,
				Address:       address,
				CurrentWeight: delta,
				LastResetAt:   now.UnixMilli(),
			}
			total = delta
			return tx.Create(&record).Error
		}
		if err != nil {
			return err
		}

		if sameMinute(record.LastResetAt, now) {
			record.CurrentWeight += delta
		} else {
			record.CurrentWeight = delta
			record.LastResetAt = now.UnixMilli()
		}
		total = record.CurrentWeight

		return tx.Save(&record).Error
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "WeightRepository",
			"op":       "AddWeight",
			"exchange": exchange,
			"address":  address,
			"delta":    delta,
		}).WithError(err).Error("Failed to add address weight")

		return 0, err
	}

	return total, nil
}

func sameMinute(epochMillis int64, now time.Time) bool {
	return time.UnixMilli(epochMillis).Truncate(time.Minute).Equal(now.Truncate(time.Minute))
}
