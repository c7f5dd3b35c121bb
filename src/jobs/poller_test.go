package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ladderexecutor/src/model"
	"ladderexecutor/src/orderexec"
	"ladderexecutor/src/repository"
)

func newJobsDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.JobQueueEntry{}))

	return db
}

func leaseOne(t *testing.T, db *gorm.DB, class string, args []string) *model.JobQueueEntry {
	t.Helper()

	ctx := context.Background()
	queue := repository.NewJobQueueRepository().WithDB(db)

	_, err := queue.Enqueue(ctx, class, args, "group-1")
	require.NoError(t, err)

	leased, err := queue.Lease(ctx, 1, "test-host")
	require.NoError(t, err)
	require.Len(t, leased, 1)

	return &leased[0]
}

func entryByID(t *testing.T, db *gorm.DB, id uint) *model.JobQueueEntry {
	t.Helper()

	var entry model.JobQueueEntry
	require.NoError(t, db.First(&entry, id).Error)
	return &entry
}

func TestRunCompletesSuccessfulJob(t *testing.T) {
	db := newJobsDB(t)
	registry := Registry{
		"test.ok": func(context.Context, []string) error { return nil },
	}
	p := NewPoller(db, registry, PollerOptions{Hostname: "test-host"})

	entry := leaseOne(t, db, "test.ok", []string{"1"})
	p.run(context.Background(), entry)

	require.Equal(t, model.JobStatusCompleted, entryByID(t, db, entry.ID).Status)
}

func TestRunMarksFailureAndFreezesGroup(t *testing.T) {
	db := newJobsDB(t)
	registry := Registry{
		"test.fail": func(context.Context, []string) error { return errors.New("connection refused") },
	}
	p := NewPoller(db, registry, PollerOptions{Hostname: "test-host"})

	entry := leaseOne(t, db, "test.fail", []string{"1"})
	p.run(context.Background(), entry)

	failed := entryByID(t, db, entry.ID)
	require.Equal(t, model.JobStatusFailed, failed.Status)
	require.Contains(t, failed.ErrorMessage, "connection refused")

	// The failed entry now blocks its group.
	ctx := context.Background()
	queue := repository.NewJobQueueRepository().WithDB(db)
	_, err := queue.Enqueue(ctx, "test.fail", []string{"2"}, "group-1")
	require.NoError(t, err)

	leased, err := queue.Lease(ctx, 10, "test-host")
	require.NoError(t, err)
	require.Empty(t, leased)
}

func TestRunRescheduleClonesEntry(t *testing.T) {
	db := newJobsDB(t)
	registry := Registry{
		"test.defer": func(context.Context, []string) error { return orderexec.ErrReschedule },
	}
	p := NewPoller(db, registry, PollerOptions{Hostname: "test-host", RescheduleDelay: 5 * time.Second})

	entry := leaseOne(t, db, "test.defer", []string{"42"})
	p.run(context.Background(), entry)

	// Original completes instead of freezing the group.
	require.Equal(t, model.JobStatusCompleted, entryByID(t, db, entry.ID).Status)

	// The clone waits in the same group with a future run_after.
	var clone model.JobQueueEntry
	require.NoError(t, db.Where("status = ?", model.JobStatusPending).First(&clone).Error)
	require.Equal(t, "test.defer", clone.Class)
	require.Equal(t, "group-1", clone.GroupID)
	require.Equal(t, entry.Arguments, clone.Arguments)
	require.Greater(t, clone.RunAfter, time.Now().UnixMilli())
}

func TestRunUnknownClassFails(t *testing.T) {
	db := newJobsDB(t)
	p := NewPoller(db, Registry{}, PollerOptions{Hostname: "test-host"})

	entry := leaseOne(t, db, "test.unknown", []string{"1"})
	p.run(context.Background(), entry)

	failed := entryByID(t, db, entry.ID)
	require.Equal(t, model.JobStatusFailed, failed.Status)
	require.Contains(t, failed.ErrorMessage, "unknown work class")
}

func TestSingleID(t *testing.T) {
	id, err := singleID([]string{"42"})
	require.NoError(t, err)
	require.Equal(t, uint(42), id)

	_, err = singleID(nil)
	require.Error(t, err)

	_, err = singleID([]string{"42", "7"})
	require.Error(t, err)

	_, err = singleID([]string{"abc"})
	require.Error(t, err)
}
