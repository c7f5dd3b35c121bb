package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ladderexecutor/src/model"
)

func newTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))

	return db
}

func newQueueRepo(t *testing.T, now time.Time) *JobQueueRepository {
	t.Helper()

	db := newTestDB(t, &model.JobQueueEntry{})
	return NewJobQueueRepository().WithDB(db).WithNow(func() time.Time { return now })
}

func TestLeaseFIFOAndConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newQueueRepo(t, now)

	for _, group := range []string{"g1", "g2", "g3"} {
		_, err := repo.Enqueue(ctx, model.JobClassDispatchOrder, []string{"1"}, group)
		require.NoError(t, err)
	}

	first, err := repo.Lease(ctx, 2, "worker-a")
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, uint(1), first[0].ID)
	require.Equal(t, uint(2), first[1].ID)
	require.Equal(t, model.JobStatusRunning, first[0].Status)
	require.Equal(t, "worker-a", first[0].Hostname)
	require.Equal(t, 1, first[0].Attempts)

	second, err := repo.Lease(ctx, 2, "worker-a")
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, uint(3), second[0].ID)
}

func TestLeaseGroupExclusivity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newQueueRepo(t, now)

	_, err := repo.Enqueue(ctx, model.JobClassDispatchOrder, []string{"1"}, "ladder-1")
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, model.JobClassValidatePosition, []string{"9"}, "ladder-1")
	require.NoError(t, err)

	leased, err := repo.Lease(ctx, 10, "worker-a")
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.Equal(t, uint(1), leased[0].ID)

	// The running entry blocks its whole group.
	blocked, err := repo.Lease(ctx, 10, "worker-b")
	require.NoError(t, err)
	require.Empty(t, blocked)

	require.NoError(t, repo.MarkCompleted(ctx, leased[0].ID))

	next, err := repo.Lease(ctx, 10, "worker-b")
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, uint(2), next[0].ID)
}

func TestLeaseTakesOneEntryPerGroup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newQueueRepo(t, now)

	// Two full ladders: order jobs plus the trailing validation, each
	// under its own group.
	for _, group := range []string{"ladder-1", "ladder-2"} {
		_, err := repo.Enqueue(ctx, model.JobClassDispatchOrder, []string{"1"}, group)
		require.NoError(t, err)
		_, err = repo.Enqueue(ctx, model.JobClassDispatchOrder, []string{"2"}, group)
		require.NoError(t, err)
		_, err = repo.Enqueue(ctx, model.JobClassValidatePosition, []string{"9"}, group)
		require.NoError(t, err)
	}

	// A single generous lease still takes only the oldest entry of
	// each group.
	leased, err := repo.Lease(ctx, 10, "worker-a")
	require.NoError(t, err)
	require.Len(t, leased, 2)
	require.Equal(t, "ladder-1", leased[0].GroupID)
	require.Equal(t, "ladder-2", leased[1].GroupID)
	require.Equal(t, model.JobClassDispatchOrder, leased[0].Class)
	require.Equal(t, model.JobClassDispatchOrder, leased[1].Class)

	// Nothing else is leasable while those run.
	blocked, err := repo.Lease(ctx, 10, "worker-b")
	require.NoError(t, err)
	require.Empty(t, blocked)
}

func TestFailedEntryFreezesGroupUntilResolved(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newQueueRepo(t, now)

	_, err := repo.Enqueue(ctx, model.JobClassDispatchOrder, []string{"1"}, "ladder-1")
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, model.JobClassValidatePosition, []string{"9"}, "ladder-1")
	require.NoError(t, err)

	leased, err := repo.Lease(ctx, 10, "worker-a")
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, repo.MarkFailed(ctx, leased[0].ID, context.DeadlineExceeded))

	frozen, err := repo.Lease(ctx, 10, "worker-a")
	require.NoError(t, err)
	require.Empty(t, frozen)

	require.NoError(t, repo.ResolveFailedGroup(ctx, "ladder-1", "rolled back"))

	unfrozen, err := repo.Lease(ctx, 10, "worker-a")
	require.NoError(t, err)
	require.Len(t, unfrozen, 1)
	require.Equal(t, uint(2), unfrozen[0].ID)
}

func TestLeaseHonorsRunAfter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newQueueRepo(t, now)

	_, err := repo.EnqueueAfter(ctx, model.JobClassDispatchOrder, []string{"1"}, "g1",
		now.Add(5*time.Second).UnixMilli())
	require.NoError(t, err)

	early, err := repo.Lease(ctx, 10, "worker-a")
	require.NoError(t, err)
	require.Empty(t, early)

	later := repo.WithNow(func() time.Time { return now.Add(6 * time.Second) })
	due, err := later.Lease(ctx, 10, "worker-a")
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestRequeueStaleReturnsAbandonedLeases(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newQueueRepo(t, now)

	_, err := repo.Enqueue(ctx, model.JobClassDispatchOrder, []string{"1"}, "g1")
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, model.JobClassDispatchOrder, []string{"2"}, "g2")
	require.NoError(t, err)

	leased, err := repo.Lease(ctx, 1, "worker-a")
	require.NoError(t, err)
	require.Len(t, leased, 1)

	fresh := repo.WithNow(func() time.Time { return now.Add(20 * time.Minute) })
	freshLease, err := fresh.Lease(ctx, 1, "worker-b")
	require.NoError(t, err)
	require.Len(t, freshLease, 1)

	// Only the first lease is older than the cutoff.
	requeued, err := repo.RequeueStale(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), requeued)

	var entry model.JobQueueEntry
	require.NoError(t, repo.db.First(&entry, leased[0].ID).Error)
	require.Equal(t, model.JobStatusPending, entry.Status)
}

func TestMarkCompletedRecordsDuration(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newQueueRepo(t, now)

	_, err := repo.Enqueue(ctx, model.JobClassDispatchOrder, []string{"1"}, "g1")
	require.NoError(t, err)

	leased, err := repo.Lease(ctx, 1, "worker-a")
	require.NoError(t, err)
	require.Len(t, leased, 1)

	done := repo.WithNow(func() time.Time { return now.Add(3 * time.Second) })
	require.NoError(t, done.MarkCompleted(ctx, leased[0].ID))

	var entry model.JobQueueEntry
	require.NoError(t, repo.db.First(&entry, leased[0].ID).Error)
	require.Equal(t, model.JobStatusCompleted, entry.Status)
	require.Equal(t, int64(3000), entry.Duration)
}

func TestDecodeArguments(t *testing.T) {
	entry := &model.JobQueueEntry{ID: 7, Arguments: `["42","LONG"]`}
	args, err := DecodeArguments(entry)
	require.NoError(t, err)
	require.Equal(t, []string{"42", "LONG"}, args)

	entry.Arguments = "not-json"
	_, err = DecodeArguments(entry)
	require.Error(t, err)
}
