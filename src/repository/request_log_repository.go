package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/database"
	"ladderexecutor/src/model"
)

// RequestLogRepository appends to the outbound exchange request audit.
type RequestLogRepository struct {
	db *gorm.DB
}

// NewRequestLogRepository creates a new repository instance using the main read/write database.
func NewRequestLogRepository() *RequestLogRepository {
	return &RequestLogRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *RequestLogRepository) WithDB(db *gorm.DB) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// Create appends one request log row. Failures are logged but must not
// break the call path, so the caller may ignore the returned error.
func (r *RequestLogRepository) Create(ctx context.Context, entry *model.ExchangeRequestLog) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "RequestLogRepository",
			"op":   "Create",
			"path": entry.Path,
		}).WithError(err).Error("Failed to append request log")
	}

	return err
}
