package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ladderexecutor/src/model"
)

func newPositionRepo(t *testing.T) *PositionRepository {
	t.Helper()

	db := newTestDB(t, &model.Position{}, &model.Order{})
	return NewPositionRepository().WithDB(db)
}

func TestTryTransitionGuardsConcurrentClose(t *testing.T) {
	ctx := context.Background()
	repo := newPositionRepo(t)

	pos := &model.Position{TraderID: 1, Status: model.PositionStatusSynced}
	require.NoError(t, repo.Create(ctx, pos))

	ok, err := repo.TryTransition(ctx, pos.ID, model.PositionStatusSynced, model.PositionStatusLocked)
	require.NoError(t, err)
	require.True(t, ok)

	// Second taker loses the race.
	ok, err = repo.TryTransition(ctx, pos.ID, model.PositionStatusSynced, model.PositionStatusLocked)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.TryTransition(ctx, pos.ID, model.PositionStatusLocked, model.PositionStatusSynced)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMarkErrorKeepsComment(t *testing.T) {
	ctx := context.Background()
	repo := newPositionRepo(t)

	pos := &model.Position{TraderID: 1, Status: model.PositionStatusSyncing}
	require.NoError(t, repo.Create(ctx, pos))
	require.NoError(t, repo.MarkError(ctx, pos.ID, "exchange rejected leverage change"))

	found, err := repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	require.Equal(t, model.PositionStatusError, found.Status)
	require.Equal(t, "exchange rejected leverage change", found.Comments)
	require.True(t, found.IsTerminal())
}

func TestFindOpenSymbolIDsSkipsTerminalAndUnbound(t *testing.T) {
	ctx := context.Background()
	repo := newPositionRepo(t)

	rows := []*model.Position{
		{TraderID: 1, ExchangeSymbolID: 10, Status: model.PositionStatusSynced},
		{TraderID: 1, ExchangeSymbolID: 11, Status: model.PositionStatusSyncing},
		{TraderID: 1, ExchangeSymbolID: 12, Status: model.PositionStatusClosed},
		{TraderID: 1, ExchangeSymbolID: 13, Status: model.PositionStatusError},
		{TraderID: 1, ExchangeSymbolID: 0, Status: model.PositionStatusNew},
		{TraderID: 2, ExchangeSymbolID: 14, Status: model.PositionStatusSynced},
	}
	for _, row := range rows {
		require.NoError(t, repo.Create(ctx, row))
	}

	ids, err := repo.FindOpenSymbolIDs(ctx, 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint{10, 11}, ids)
}

func TestFindByIDPreloadsOrders(t *testing.T) {
	ctx := context.Background()
	repo := newPositionRepo(t)

	pos := &model.Position{TraderID: 1, Status: model.PositionStatusSyncing}
	require.NoError(t, repo.Create(ctx, pos))

	orders := NewOrderRepository().WithDB(repo.db)
	require.NoError(t, orders.CreateBatch(ctx, []*model.Order{
		{PositionID: pos.ID, Type: model.OrderTypeMarket, Status: model.OrderStatusNew},
		{PositionID: pos.ID, Type: model.OrderTypeProfit, Status: model.OrderStatusNew},
	}))

	found, err := repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, found.Orders, 2)

	missing, err := repo.FindByID(ctx, 999)
	require.NoError(t, err)
	require.Nil(t, missing)
}
