package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/database"
	"ladderexecutor/src/model"
)

// JobQueueRepository owns the durable job ledger: enqueueing work,
// leasing eligible entries and reporting their terminal status.
type JobQueueRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobQueueRepository creates a new repository instance using the main read/write database.
func NewJobQueueRepository() *JobQueueRepository {
	return &JobQueueRepository{
		db:  database.MainDB,
		now: time.Now,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *JobQueueRepository) WithDB(db *gorm.DB) *JobQueueRepository {
	return &JobQueueRepository{db: db, now: r.nowFunc()}
}

// WithNow overrides the clock. Tests only.
func (r *JobQueueRepository) WithNow(now func() time.Time) *JobQueueRepository {
	return &JobQueueRepository{db: r.db, now: now}
}

func (r *JobQueueRepository) nowFunc() func() time.Time {
	if r.now == nil {
		return time.Now
	}
	return r.now
}

// Enqueue appends a pending entry for the given work class. Arguments
// are stored as a flat JSON array of strings; groupID groups jobs that
// must never race each other.
func (r *JobQueueRepository) Enqueue(
	ctx context.Context,
	class string,
	args []string,
	groupID string,
) (*model.JobQueueEntry, error) {
	return r.EnqueueAfter(ctx, class, args, groupID, 0)
}

// EnqueueAfter appends a pending entry that only becomes eligible for
// leasing once runAfter (epoch millis) has passed. Used by the
// cooperative reschedule of the order dispatch barrier.
func (r *JobQueueRepository) EnqueueAfter(
	ctx context.Context,
	class string,
	args []string,
	groupID string,
	runAfter int64,
) (*model.JobQueueEntry, error) {

	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job arguments: %w", err)
	}

	entry := &model.JobQueueEntry{
		Class:     class,
		Arguments: string(encoded),
		Status:    model.JobStatusPending,
		GroupID:   groupID,
		RunAfter:  runAfter,
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "JobQueueRepository",
			"op":       "Enqueue",
			"class":    class,
			"group_id": groupID,
		}).WithError(err).Error("Failed to enqueue job")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "JobQueueRepository",
		"op":       "Enqueue",
		"job_id":   entry.ID,
		"class":    class,
		"group_id": groupID,
	}).Info("Job enqueued")

	return entry, nil
}

// Lease claims up to maxParallel pending entries for this host and
// marks them running. Eligibility rules:
//
//   - a group with any running or failed entry is blocked: none of its
//     pending entries may be leased until the active entry resolves
//   - at most one entry per group is taken in a single call
//   - entries are taken FIFO by ascending id
//   - entries with a future run_after are skipped
//
// The claim itself is an atomic conditional update guarded on
// status='pending' and on the group having no other active entry, so
// pollers racing for the same entry or the same group can never both
// win.
func (r *JobQueueRepository) Lease(
	ctx context.Context,
	maxParallel int,
	hostname string,
) ([]model.JobQueueEntry, error) {

	if maxParallel <= 0 {
		return nil, nil
	}

	nowMillis := r.nowFunc()().UnixMilli()

	var blockedGroups []string
	err := r.db.WithContext(ctx).
		Model(&model.JobQueueEntry{}).
		Where("status IN ?", []string{model.JobStatusRunning, model.JobStatusFailed}).
		Where("group_id <> ''").
		Distinct().
		Pluck("group_id", &blockedGroups).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "JobQueueRepository",
			"op":   "Lease",
		}).WithError(err).Error("Failed to compute blocked groups")

		return nil, err
	}

	// One candidate per group: the oldest eligible pending entry.
	oldestPerGroup := r.db.
		Model(&model.JobQueueEntry{}).
		Select("MIN(id)").
		Where("status = ?", model.JobStatusPending).
		Where("run_after <= ?", nowMillis).
		Group("group_id")

	query := r.db.WithContext(ctx).
		Where("id IN (?)", oldestPerGroup)
	if len(blockedGroups) > 0 {
		query = query.Where("group_id NOT IN ?", blockedGroups)
	}

	var candidates []model.JobQueueEntry
	if err := query.Order("id ASC").Limit(maxParallel).Find(&candidates).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "JobQueueRepository",
			"op":   "Lease",
		}).WithError(err).Error("Failed to select pending entries")

		return nil, err
	}

	leased := make([]model.JobQueueEntry, 0, len(candidates))
	claimedGroups := map[string]bool{}
	for i := range candidates {
		entry := candidates[i]

		if entry.GroupID != "" && claimedGroups[entry.GroupID] {
			continue
		}

		claim := r.db.WithContext(ctx).
			Model(&model.JobQueueEntry{}).
			Where("id = ? AND status = ?", entry.ID, model.JobStatusPending)
		if entry.GroupID != "" {
			claim = claim.Where(
				"NOT EXISTS (SELECT 1 FROM job_queue b WHERE b.group_id = ? AND b.status IN (?, ?))",
				entry.GroupID, model.JobStatusRunning, model.JobStatusFailed)
		}

		res := claim.
			Updates(map[string]interface{}{
				"status":     model.JobStatusRunning,
				"hostname":   hostname,
				"started_at": nowMillis,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			logger.WithFields(map[string]interface{}{
				"repo":   "JobQueueRepository",
				"op":     "Lease",
				"job_id": entry.ID,
			}).WithError(res.Error).Error("Failed to claim entry")

			return leased, res.Error
		}
		if res.RowsAffected == 0 {
			// Another poller claimed the entry or its group between
			// select and update.
			continue
		}

		entry.Status = model.JobStatusRunning
		entry.Hostname = hostname
		entry.StartedAt = nowMillis
		entry.Attempts++
		leased = append(leased, entry)
		claimedGroups[entry.GroupID] = true
	}

	if len(leased) > 0 {
		logger.WithFields(map[string]interface{}{
			"repo":     "JobQueueRepository",
			"op":       "Lease",
			"hostname": hostname,
			"leased":   len(leased),
		}).Info("Entries leased")
	}

	return leased, nil
}

// MarkCompleted records a successful run with its duration.
func (r *JobQueueRepository) MarkCompleted(ctx context.Context, id uint) error {
	nowMillis := r.nowFunc()().UnixMilli()

	err := r.db.WithContext(ctx).
		Model(&model.JobQueueEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.JobStatusCompleted,
			"completed_at": nowMillis,
			"duration":     gorm.Expr("? - started_at", nowMillis),
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "JobQueueRepository",
			"op":     "MarkCompleted",
			"job_id": id,
		}).WithError(err).Error("Failed to mark entry completed")
	}

	return err
}

// MarkFailed records a failed run. A failed entry freezes its whole
// group until an operator or a rollback resolves it.
func (r *JobQueueRepository) MarkFailed(ctx context.Context, id uint, cause error) error {
	nowMillis := r.nowFunc()().UnixMilli()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	err := r.db.WithContext(ctx).
		Model(&model.JobQueueEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"completed_at":  nowMillis,
			"duration":      gorm.Expr("? - started_at", nowMillis),
			"error_message": msg,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "JobQueueRepository",
			"op":     "MarkFailed",
			"job_id": id,
		}).WithError(err).Error("Failed to mark entry failed")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "JobQueueRepository",
		"op":     "MarkFailed",
		"job_id": id,
		"cause":  msg,
	}).Warn("Entry marked failed, group is now frozen")

	return nil
}

// ResolveFailedGroup returns a frozen group's failed entries to a
// terminal completed state so the group can make progress again. Used
// by rollback once compensation has run, and by operators.
func (r *JobQueueRepository) ResolveFailedGroup(ctx context.Context, groupID string, note string) error {
	err := r.db.WithContext(ctx).
		Model(&model.JobQueueEntry{}).
		Where("group_id = ? AND status = ?", groupID, model.JobStatusFailed).
		Updates(map[string]interface{}{
			"status":        model.JobStatusCompleted,
			"error_message": gorm.Expr("error_message || ?", " | resolved: "+note),
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "JobQueueRepository",
			"op":       "ResolveFailedGroup",
			"group_id": groupID,
		}).WithError(err).Error("Failed to resolve failed group")
	}

	return err
}

// RequeueStale returns running entries whose lease started before the
// cutoff back to pending. A crashed worker otherwise blocks its group
// forever.
func (r *JobQueueRepository) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.JobQueueEntry{}).
		Where("status = ? AND started_at > 0 AND started_at < ?", model.JobStatusRunning, cutoff.UnixMilli()).
		Updates(map[string]interface{}{
			"status":        model.JobStatusPending,
			"error_message": "requeued by stale lease reaper",
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "JobQueueRepository",
			"op":   "RequeueStale",
		}).WithError(res.Error).Error("Failed to requeue stale entries")

		return 0, res.Error
	}

	if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{
			"repo":     "JobQueueRepository",
			"op":       "RequeueStale",
			"requeued": res.RowsAffected,
		}).Warn("Stale running entries returned to pending")
	}

	return res.RowsAffected, nil
}

// FindRecent returns the latest ledger entries, newest first.
func (r *JobQueueRepository) FindRecent(ctx context.Context, limit int) ([]model.JobQueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []model.JobQueueEntry
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "JobQueueRepository",
			"op":    "FindRecent",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch recent entries")

		return nil, err
	}

	return entries, nil
}

// DecodeArguments unpacks the stored JSON argument list of an entry.
func DecodeArguments(entry *model.JobQueueEntry) ([]string, error) {
	if entry.Arguments == "" {
		return nil, nil
	}

	var args []string
	if err := json.Unmarshal([]byte(entry.Arguments), &args); err != nil {
		return nil, fmt.Errorf("job %d has malformed arguments: %w", entry.ID, err)
	}
	return args, nil
}
