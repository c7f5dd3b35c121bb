package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ladderexecutor/src/model"
)

func newWeightRepo(t *testing.T) *WeightRepository {
	t.Helper()

	db := newTestDB(t, &model.IpWeightRecord{}, &model.EndpointWeightRecord{})
	return NewWeightRepository().WithDB(db)
}

func TestEndpointWeightDefaultsToOne(t *testing.T) {
	ctx := context.Background()
	repo := newWeightRepo(t)

	weight, err := repo.EndpointWeight(ctx, "binance-futures", "/fapi/v1/order")
	require.NoError(t, err)
	require.Equal(t, int64(1), weight)

	require.NoError(t, repo.RefineEndpointWeight(ctx, "binance-futures", "/fapi/v1/order", 5))

	refined, err := repo.EndpointWeight(ctx, "binance-futures", "/fapi/v1/order")
	require.NoError(t, err)
	require.Equal(t, int64(5), refined)
}

func TestAddWeightAccumulatesWithinMinute(t *testing.T) {
	ctx := context.Background()
	repo := newWeightRepo(t)
	now := time.Date(2026, 8, 1, 12, 0, 10, 0, time.UTC)

	total, err := repo.AddWeight(ctx, "binance-futures", "10.0.0.1", 5, now)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)

	total, err = repo.AddWeight(ctx, "binance-futures", "10.0.0.1", 7, now.Add(20*time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(12), total)

	weight, err := repo.AddressWeight(ctx, "binance-futures", "10.0.0.1", now.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(12), weight)
}

func TestAddWeightResetsOnMinuteRollover(t *testing.T) {
	ctx := context.Background()
	repo := newWeightRepo(t)
	now := time.Date(2026, 8, 1, 12, 0, 50, 0, time.UTC)

	_, err := repo.AddWeight(ctx, "binance-futures", "10.0.0.1", 900, now)
	require.NoError(t, err)

	// The next minute sees a fresh window, both on read and on write.
	nextMinute := now.Add(20 * time.Second)
	weight, err := repo.AddressWeight(ctx, "binance-futures", "10.0.0.1", nextMinute)
	require.NoError(t, err)
	require.Equal(t, int64(0), weight)

	total, err := repo.AddWeight(ctx, "binance-futures", "10.0.0.1", 3, nextMinute)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
}

func TestAddressWeightUnknownAddressIsZero(t *testing.T) {
	ctx := context.Background()
	repo := newWeightRepo(t)

	weight, err := repo.AddressWeight(ctx, "binance-futures", "10.9.9.9", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(0), weight)
}
