package orderexec

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ladderexecutor/src/gateway"
	"ladderexecutor/src/model"
	"ladderexecutor/src/repository"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeCaller records exchange calls; unset hooks answer benignly.
type fakeCaller struct {
	placeRequests  []gateway.PlaceOrderRequest
	cancelRequests []string

	placeOrder func(req gateway.PlaceOrderRequest) (*gateway.OrderStatus, error)
	getOrder   func(exchangeOrderID string) (*gateway.OrderStatus, error)
	cancelErr  error
}

func (f *fakeCaller) PlaceOrder(_ context.Context, req gateway.PlaceOrderRequest) (*gateway.OrderStatus, error) {
	f.placeRequests = append(f.placeRequests, req)
	if f.placeOrder != nil {
		return f.placeOrder(req)
	}
	return &gateway.OrderStatus{
		ExchangeOrderID: "ex-1",
		Status:          gateway.ExchangeOrderStatusNew,
		Raw:             `{"orderId":1}`,
	}, nil
}

func (f *fakeCaller) GetOrder(_ context.Context, _, exchangeOrderID string) (*gateway.OrderStatus, error) {
	if f.getOrder != nil {
		return f.getOrder(exchangeOrderID)
	}
	return &gateway.OrderStatus{ExchangeOrderID: exchangeOrderID, Status: gateway.ExchangeOrderStatusNew}, nil
}

func (f *fakeCaller) AmendOrder(_ context.Context, req gateway.AmendOrderRequest) (*gateway.OrderStatus, error) {
	return &gateway.OrderStatus{ExchangeOrderID: req.ExchangeOrderID}, nil
}

func (f *fakeCaller) CancelOrder(_ context.Context, _, exchangeOrderID string) error {
	f.cancelRequests = append(f.cancelRequests, exchangeOrderID)
	return f.cancelErr
}

func (f *fakeCaller) CancelOpenOrders(context.Context, string) error { return nil }

func (f *fakeCaller) GetPositions(context.Context, string) ([]gateway.PositionRisk, error) {
	return nil, nil
}

func (f *fakeCaller) GetAccountBalance(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeCaller) GetMarkPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeCaller) SetDefaultLeverage(context.Context, string, int) error { return nil }

func (f *fakeCaller) UpdateMarginType(context.Context, string, string) error { return nil }

func (f *fakeCaller) GetLeverageBrackets(context.Context, string) ([]gateway.LeverageBracket, error) {
	return nil, nil
}

type dispatchEnv struct {
	db     *gorm.DB
	caller *fakeCaller
	disp   *Dispatcher

	position *model.Position
	symbol   *model.ExchangeSymbol
	orders   []*model.Order
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Position{}, &model.Order{}, &model.ExchangeSymbol{},
		&model.Exception{}, &model.JobQueueEntry{},
	))

	symbol := &model.ExchangeSymbol{
		Exchange:          "binance-futures",
		Symbol:            "BTCUSDT",
		Side:              model.SideLong,
		TickSize:          d("0.1"),
		QuantityPrecision: 3,
		Enabled:           true,
	}
	require.NoError(t, db.Create(symbol).Error)

	position := &model.Position{
		TraderID:                     1,
		ExchangeSymbolID:             symbol.ID,
		Status:                       model.PositionStatusSyncing,
		Side:                         model.SideLong,
		InitialMarkPrice:             d("100"),
		TotalTradeAmount:             d("1200"),
		InitialProfitPercentageRatio: d("2"),
	}
	require.NoError(t, db.Create(position).Error)

	orders := []*model.Order{
		{PositionID: position.ID, Type: model.OrderTypeLimit, Status: model.OrderStatusNew,
			PriceRatioPercentage: d("-1"), AmountDivider: d("4")},
		{PositionID: position.ID, Type: model.OrderTypeMarket, Status: model.OrderStatusNew,
			AmountDivider: d("2")},
		{PositionID: position.ID, Type: model.OrderTypeProfit, Status: model.OrderStatusNew,
			AmountDivider: d("1")},
	}
	require.NoError(t, repository.NewOrderRepository().WithDB(db).CreateBatch(context.Background(), orders))

	caller := &fakeCaller{}
	return &dispatchEnv{
		db:       db,
		caller:   caller,
		disp:     NewDispatcher(db, caller),
		position: position,
		symbol:   symbol,
		orders:   orders,
	}
}

func (e *dispatchEnv) reload(t *testing.T, id uint) *model.Order {
	t.Helper()

	var order model.Order
	require.NoError(t, e.db.First(&order, id).Error)
	return &order
}

func TestDispatchLimitLegPlacesImmediately(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	require.NoError(t, env.disp.Dispatch(ctx, env.orders[0].ID))
	require.Len(t, env.caller.placeRequests, 1)

	req := env.caller.placeRequests[0]
	require.Equal(t, "BTCUSDT", req.Symbol)
	require.Equal(t, "BUY", req.Side)
	require.Equal(t, model.OrderTypeLimit, req.Type)
	// 100 * 0.99 snapped to 0.1 = 99; 1200/4/99 = 3.0303.. rounded down.
	require.True(t, d("99").Equal(req.Price), "price %s", req.Price)
	require.True(t, d("3.03").Equal(req.Quantity), "quantity %s", req.Quantity)

	stored := env.reload(t, env.orders[0].ID)
	require.Equal(t, model.OrderStatusSynced, stored.Status)
	require.Equal(t, "ex-1", stored.OrderExchangeSystemID)
}

func TestDispatchMarketLegWaitsForLimitLegs(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	err := env.disp.Dispatch(ctx, env.orders[1].ID)
	require.ErrorIs(t, err, ErrReschedule)
	require.Empty(t, env.caller.placeRequests)

	// Once the LIMIT leg is out, the MARKET leg goes through.
	require.NoError(t, env.disp.Dispatch(ctx, env.orders[0].ID))
	require.NoError(t, env.disp.Dispatch(ctx, env.orders[1].ID))
	require.Len(t, env.caller.placeRequests, 2)
	require.Equal(t, model.OrderTypeMarket, env.caller.placeRequests[1].Type)
}

func TestDispatchProfitLegWaitsForAllSiblings(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	err := env.disp.Dispatch(ctx, env.orders[2].ID)
	require.ErrorIs(t, err, ErrReschedule)
	require.Empty(t, env.caller.placeRequests)
}

func TestDispatchProfitLegUsesWeightedAverage(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	// Entry legs already executed: 2 @ 16 and 1 @ 18.4.
	require.NoError(t, env.db.Model(&model.Order{}).Where("id = ?", env.orders[0].ID).
		Updates(map[string]interface{}{
			"status": model.OrderStatusFilled, "order_exchange_system_id": "ex-a",
			"filled_average_price": d("16"), "filled_quantity": d("2"),
		}).Error)
	require.NoError(t, env.db.Model(&model.Order{}).Where("id = ?", env.orders[1].ID).
		Updates(map[string]interface{}{
			"status": model.OrderStatusFilled, "order_exchange_system_id": "ex-b",
			"filled_average_price": d("18.4"), "filled_quantity": d("1"),
		}).Error)

	require.NoError(t, env.disp.Dispatch(ctx, env.orders[2].ID))
	require.Len(t, env.caller.placeRequests, 1)

	req := env.caller.placeRequests[0]
	require.Equal(t, "SELL", req.Side)
	require.True(t, req.ReduceOnly)
	// Weighted average 16.8, +2% = 17.136, snapped to 17.1.
	require.True(t, d("17.1").Equal(req.Price), "price %s", req.Price)
	require.True(t, d("3").Equal(req.Quantity), "quantity %s", req.Quantity)
}

func TestDispatchSkipsWhenSiblingErrored(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	require.NoError(t, env.db.Model(&model.Order{}).Where("id = ?", env.orders[1].ID).
		Update("status", model.OrderStatusError).Error)

	require.NoError(t, env.disp.Dispatch(ctx, env.orders[0].ID))
	require.Empty(t, env.caller.placeRequests)

	stored := env.reload(t, env.orders[0].ID)
	require.Equal(t, model.OrderStatusNew, stored.Status)
}

func TestDispatchExchangeRejectionMarksOrderError(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	env.caller.placeOrder = func(gateway.PlaceOrderRequest) (*gateway.OrderStatus, error) {
		return nil, errors.New("margin is insufficient")
	}

	// The job itself succeeds so validation can observe the failed leg.
	require.NoError(t, env.disp.Dispatch(ctx, env.orders[0].ID))

	stored := env.reload(t, env.orders[0].ID)
	require.Equal(t, model.OrderStatusError, stored.Status)
	require.Contains(t, stored.Comments, "margin is insufficient")
}

func TestDispatchIsIdempotentOnNonNewOrders(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	require.NoError(t, env.db.Model(&model.Order{}).Where("id = ?", env.orders[0].ID).
		Update("status", model.OrderStatusSynced).Error)

	require.NoError(t, env.disp.Dispatch(ctx, env.orders[0].ID))
	require.Empty(t, env.caller.placeRequests)
}

func TestCancelSyncedLeg(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	require.NoError(t, env.db.Model(&model.Order{}).Where("id = ?", env.orders[0].ID).
		Updates(map[string]interface{}{
			"status": model.OrderStatusSynced, "order_exchange_system_id": "ex-a",
		}).Error)

	require.NoError(t, env.disp.Cancel(ctx, env.orders[0].ID))
	require.Equal(t, []string{"ex-a"}, env.caller.cancelRequests)
	require.Equal(t, model.OrderStatusCancelled, env.reload(t, env.orders[0].ID).Status)
}

func TestCancelNewLegSkipsExchange(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	require.NoError(t, env.disp.Cancel(ctx, env.orders[0].ID))
	require.Empty(t, env.caller.cancelRequests)
	require.Equal(t, model.OrderStatusCancelled, env.reload(t, env.orders[0].ID).Status)
}
