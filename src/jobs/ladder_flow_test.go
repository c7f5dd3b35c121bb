package jobs

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ladderexecutor/src/gateway"
	"ladderexecutor/src/model"
	"ladderexecutor/src/position"
	"ladderexecutor/src/repository"
)

const ladderPlan = `{
	"legs": [
		{"type": "LIMIT", "price_ratio_percentage": "-1", "amount_divider": "4"},
		{"type": "MARKET", "price_ratio_percentage": "0", "amount_divider": "2"},
		{"type": "PROFIT", "price_ratio_percentage": "0", "amount_divider": "1"}
	],
	"profit_percentage_ratio": "2"
}`

// ladderCaller plays the exchange for a whole ladder run: every placed
// order is remembered and reported back as filled on the next lookup.
type ladderCaller struct {
	placeRequests []gateway.PlaceOrderRequest
	placed        map[string]gateway.PlaceOrderRequest
	seq           int
}

func newLadderCaller() *ladderCaller {
	return &ladderCaller{placed: map[string]gateway.PlaceOrderRequest{}}
}

func (c *ladderCaller) PlaceOrder(_ context.Context, req gateway.PlaceOrderRequest) (*gateway.OrderStatus, error) {
	c.seq++
	id := fmt.Sprintf("ex-%d", c.seq)
	c.placeRequests = append(c.placeRequests, req)
	c.placed[id] = req
	return &gateway.OrderStatus{
		ExchangeOrderID: id,
		Status:          gateway.ExchangeOrderStatusNew,
		Raw:             fmt.Sprintf(`{"orderId":%d}`, c.seq),
	}, nil
}

func (c *ladderCaller) GetOrder(_ context.Context, _, id string) (*gateway.OrderStatus, error) {
	req, ok := c.placed[id]
	if !ok {
		return &gateway.OrderStatus{ExchangeOrderID: id, Status: gateway.ExchangeOrderStatusNew}, nil
	}

	avg := req.Price
	if avg.IsZero() {
		avg = decimal.NewFromInt(100)
	}
	return &gateway.OrderStatus{
		ExchangeOrderID:  id,
		Status:           gateway.ExchangeOrderStatusFilled,
		ExecutedQuantity: req.Quantity,
		AveragePrice:     avg,
		Raw:              `{"status":"FILLED"}`,
	}, nil
}

func (c *ladderCaller) AmendOrder(_ context.Context, req gateway.AmendOrderRequest) (*gateway.OrderStatus, error) {
	return &gateway.OrderStatus{ExchangeOrderID: req.ExchangeOrderID}, nil
}

func (c *ladderCaller) CancelOrder(context.Context, string, string) error { return nil }

func (c *ladderCaller) CancelOpenOrders(context.Context, string) error { return nil }

func (c *ladderCaller) GetPositions(context.Context, string) ([]gateway.PositionRisk, error) {
	return nil, nil
}

func (c *ladderCaller) GetAccountBalance(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (c *ladderCaller) GetMarkPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (c *ladderCaller) SetDefaultLeverage(context.Context, string, int) error { return nil }

func (c *ladderCaller) UpdateMarginType(context.Context, string, string) error { return nil }

func (c *ladderCaller) GetLeverageBrackets(context.Context, string) ([]gateway.LeverageBracket, error) {
	return []gateway.LeverageBracket{
		{Leverage: 20, NotionalCap: decimal.NewFromInt(50000)},
	}, nil
}

// TestPollerDrivesFullLadder walks one position from OpenNew to synced
// entirely through the ledger: the poller leases entries, the registry
// dispatches them, and the barrier keeps the ladder ordered.
func TestPollerDrivesFullLadder(t *testing.T) {
	ctx := context.Background()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Trader{}, &model.Position{}, &model.Order{}, &model.ExchangeSymbol{},
		&model.Exception{}, &model.JobQueueEntry{},
	))

	trader := &model.Trader{
		Name:                      "alpha",
		Exchange:                  "binance-futures",
		TradePercentage:           decimal.RequireFromString("50"),
		MinimumBalance:            decimal.RequireFromString("10"),
		PlannedLeverage:           15,
		DefaultTradeConfiguration: ladderPlan,
		Enabled:                   true,
	}
	require.NoError(t, db.Create(trader).Error)
	require.NoError(t, db.Create(&model.ExchangeSymbol{
		Exchange:          "binance-futures",
		Symbol:            "BTCUSDT",
		Side:              model.SideLong,
		TickSize:          decimal.RequireFromString("0.1"),
		QuantityPrecision: 3,
		Enabled:           true,
	}).Error)

	caller := newLadderCaller()
	orch := position.NewOrchestrator(db, caller)
	p := NewPoller(db, NewRegistry(db, caller), PollerOptions{
		Hostname:        "test-host",
		RescheduleDelay: time.Millisecond,
	})
	queue := repository.NewJobQueueRepository().WithDB(db)

	pos, err := orch.OpenNew(ctx, trader.ID, "")
	require.NoError(t, err)

	// Drain the ledger the way StartLoop would, one tick at a time.
	for i := 0; i < 30; i++ {
		leased, err := queue.Lease(ctx, 4, "test-host")
		require.NoError(t, err)

		if len(leased) == 0 {
			var pending int64
			require.NoError(t, db.Model(&model.JobQueueEntry{}).
				Where("status = ?", model.JobStatusPending).Count(&pending).Error)
			if pending == 0 {
				break
			}
			time.Sleep(2 * time.Millisecond)
			continue
		}

		for j := range leased {
			p.run(ctx, &leased[j])
		}
	}

	// Ladder ordering on the wire: LIMIT, then MARKET, then the
	// reduce-only PROFIT exit.
	require.Len(t, caller.placeRequests, 3)
	require.Equal(t, model.OrderTypeLimit, caller.placeRequests[0].Type)
	require.Equal(t, model.OrderTypeMarket, caller.placeRequests[1].Type)
	require.Equal(t, "SELL", caller.placeRequests[2].Side)
	require.True(t, caller.placeRequests[2].ReduceOnly)

	var stored model.Position
	require.NoError(t, db.Preload("Orders").First(&stored, pos.ID).Error)
	require.Equal(t, model.PositionStatusSynced, stored.Status)
	require.Len(t, stored.Orders, 3)
	for _, order := range stored.Orders {
		require.Contains(t, []string{model.OrderStatusSynced, model.OrderStatusFilled}, order.Status)
		require.NotEmpty(t, order.OrderExchangeSystemID)
	}

	var unfinished int64
	require.NoError(t, db.Model(&model.JobQueueEntry{}).
		Where("status NOT IN ?", []string{model.JobStatusCompleted}).
		Count(&unfinished).Error)
	require.Zero(t, unfinished)
}
