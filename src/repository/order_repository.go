package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/database"
	"ladderexecutor/src/model"
)

// OrderRepository handles read/write operations for ladder order legs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateBatch inserts a position's ladder legs inside one transaction,
// so a position can never end up with half a ladder.
func (r *OrderRepository) CreateBatch(ctx context.Context, orders []*model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo": "OrderRepository",
		"op":   "CreateBatch",
		"legs": len(orders),
	}).Debug("Creating ladder order batch")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, order := range orders {
			if err := tx.Create(order).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "CreateBatch",
		}).WithError(err).Error("Failed to create order batch")

		return err
	}

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*model.Order, error) {
	var order model.Order

	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "OrderRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Order not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindByPositionID returns every leg of a position ordered by id, i.e.
// in ladder order (LIMIT legs, MARKET, PROFIT).
func (r *OrderRepository) FindByPositionID(ctx context.Context, positionID uint) ([]model.Order, error) {
	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "OrderRepository",
			"op":          "FindByPositionID",
			"position_id": positionID,
		}).WithError(err).Error("Failed to fetch orders for position")

		return nil, err
	}

	return orders, nil
}

// Save persists all changed fields of an already-loaded order.
func (r *OrderRepository) Save(ctx context.Context, order *model.Order) error {
	if err := r.db.WithContext(ctx).Save(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "Save",
			"order_id": order.ID,
		}).WithError(err).Error("Failed to save order")

		return err
	}

	return nil
}

// UpdateStatus updates only the status of the given order ID.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Update("status", status).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "UpdateStatus",
			"id":     id,
			"status": status,
		}).WithError(err).Error("Failed to update order status")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "UpdateStatus",
		"id":     id,
		"status": status,
	}).Info("Order status updated")

	return nil
}

// MarkError sets the order to error with an operator-visible comment.
func (r *OrderRepository) MarkError(ctx context.Context, id uint, comment string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   model.OrderStatusError,
			"comments": comment,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "MarkError",
			"id":   id,
		}).WithError(err).Error("Failed to mark order as error")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "OrderRepository",
		"op":      "MarkError",
		"id":      id,
		"comment": comment,
	}).Warn("Order marked as error")

	return nil
}
