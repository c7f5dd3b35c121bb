package orderexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/exceptions"
	"ladderexecutor/src/gateway"
	"ladderexecutor/src/model"
	"ladderexecutor/src/pricing"
	"ladderexecutor/src/repository"
)

// ErrReschedule signals that the order's ladder barrier is not yet
// open: the current job completes and a clone is re-enqueued with a
// short delay instead of blocking a worker slot.
var ErrReschedule = errors.New("order not yet eligible, reschedule")

// Dispatcher places individual ladder legs on the exchange, honoring
// the ordering barrier between LIMIT, MARKET and PROFIT legs of the
// same position.
type Dispatcher struct {
	log *logrus.Entry

	orders    *repository.OrderRepository
	positions *repository.PositionRepository
	symbols   *repository.SymbolRepository
	excs      *repository.ExceptionRepository

	caller gateway.Caller
	now    func() time.Time
}

func NewDispatcher(db *gorm.DB, caller gateway.Caller) *Dispatcher {
	return &Dispatcher{
		log:       logrus.WithField("component", "orderexec.Dispatcher"),
		orders:    repository.NewOrderRepository().WithDB(db),
		positions: repository.NewPositionRepository().WithDB(db),
		symbols:   repository.NewSymbolRepository().WithDB(db),
		excs:      repository.NewExceptionRepository().WithDB(db),
		caller:    caller,
		now:       time.Now,
	}
}

// Dispatch submits one order leg. Exchange rejections mark the ORDER
// error and return nil so the job entry completes and the position's
// validation can observe the failure; only infrastructure faults
// propagate as job failures.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID uint) error {
	order, err := d.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("order %d not found", orderID)
	}
	if order.Status != model.OrderStatusNew {
		d.log.WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Info("Order already dispatched, skipping")
		return nil
	}

	pos, err := d.positions.FindByID(ctx, order.PositionID)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("order %d references missing position %d", order.ID, order.PositionID)
	}

	siblings, err := d.orders.FindByPositionID(ctx, pos.ID)
	if err != nil {
		return err
	}

	// A sibling in error poisons the whole batch: skip the exchange
	// call entirely, validation will roll the position back.
	for i := range siblings {
		if siblings[i].ID != order.ID && siblings[i].Status == model.OrderStatusError {
			d.log.WithFields(logrus.Fields{
				"order_id":      order.ID,
				"failed_leg_id": siblings[i].ID,
			}).Warn("Sibling leg already errored, skipping dispatch")
			return nil
		}
	}

	if !barrierOpen(order, siblings) {
		return ErrReschedule
	}

	symbol, err := d.symbols.FindByID(ctx, pos.ExchangeSymbolID)
	if err != nil {
		return err
	}
	if symbol == nil {
		return fmt.Errorf("position %d has no bound symbol", pos.ID)
	}

	if err := d.place(ctx, order, pos, symbol, siblings); err != nil {
		if errors.Is(err, ErrReschedule) {
			return err
		}

		exceptions.Capture(ctx, d.excs, "position_executor", "orderexec", "Dispatch", "error", err,
			map[string]interface{}{"order_id": order.ID, "position_id": pos.ID})

		if mErr := d.orders.MarkError(ctx, order.ID, err.Error()); mErr != nil {
			return mErr
		}
		return nil
	}

	return nil
}

// barrierOpen enforces the ladder ordering: LIMIT legs go first, the
// MARKET leg waits for every LIMIT leg, and the PROFIT leg waits for
// every other leg.
func barrierOpen(order *model.Order, siblings []model.Order) bool {
	switch order.Type {
	case model.OrderTypeLimit:
		return true
	case model.OrderTypeMarket:
		for i := range siblings {
			s := &siblings[i]
			if s.ID == order.ID || s.Type == model.OrderTypeProfit {
				continue
			}
			if s.Status == model.OrderStatusNew {
				return false
			}
		}
		return true
	case model.OrderTypeProfit:
		for i := range siblings {
			s := &siblings[i]
			if s.ID == order.ID {
				continue
			}
			if s.Status == model.OrderStatusNew {
				return false
			}
		}
		return true
	}
	return true
}

func (d *Dispatcher) place(
	ctx context.Context,
	order *model.Order,
	pos *model.Position,
	symbol *model.ExchangeSymbol,
	siblings []model.Order,
) error {

	var req gateway.PlaceOrderRequest

	switch order.Type {
	case model.OrderTypeLimit:
		price := pricing.SnapToTick(
			pricing.EntryLegPrice(pos.InitialMarkPrice, order.PriceRatioPercentage),
			symbol.TickSize)
		quantity := pricing.RoundQuantity(
			pricing.LegQuantity(pos.TotalTradeAmount, order.AmountDivider, price),
			symbol.QuantityPrecision)
		if quantity.IsZero() {
			return fmt.Errorf("order %d resolves to zero quantity", order.ID)
		}

		req = gateway.PlaceOrderRequest{
			Symbol:   symbol.Symbol,
			Side:     gateway.OrderSideFor(pos.Side, false),
			Type:     model.OrderTypeLimit,
			Quantity: quantity,
			Price:    price,
		}
		order.EntryAveragePrice = price
		order.EntryQuantity = quantity

	case model.OrderTypeMarket:
		quantity := pricing.RoundQuantity(
			pricing.LegQuantity(pos.TotalTradeAmount, order.AmountDivider, pos.InitialMarkPrice),
			symbol.QuantityPrecision)
		if quantity.IsZero() {
			return fmt.Errorf("order %d resolves to zero quantity", order.ID)
		}

		req = gateway.PlaceOrderRequest{
			Symbol:   symbol.Symbol,
			Side:     gateway.OrderSideFor(pos.Side, false),
			Type:     model.OrderTypeMarket,
			Quantity: quantity,
		}
		order.EntryAveragePrice = pos.InitialMarkPrice
		order.EntryQuantity = quantity

	case model.OrderTypeProfit:
		fills, err := d.entryFills(ctx, symbol.Symbol, siblings)
		if err != nil {
			return err
		}

		avg, total, ok := pricing.WeightedAverage(fills)
		if !ok {
			// Nothing executed yet. The market leg fills within
			// moments of placement, so wait another cycle.
			return ErrReschedule
		}

		price := pricing.SnapToTick(
			pricing.ProfitPrice(avg, pos.InitialProfitPercentageRatio, pos.Side),
			symbol.TickSize)

		req = gateway.PlaceOrderRequest{
			Symbol:     symbol.Symbol,
			Side:       gateway.OrderSideFor(pos.Side, true),
			Type:       model.OrderTypeLimit,
			Quantity:   pricing.RoundQuantity(total, symbol.QuantityPrecision),
			Price:      price,
			ReduceOnly: true,
		}
		order.EntryAveragePrice = price
		order.EntryQuantity = req.Quantity

	default:
		return fmt.Errorf("order %d has unsupported type %q", order.ID, order.Type)
	}

	status, err := d.caller.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}

	order.OrderExchangeSystemID = status.ExchangeOrderID
	order.ApiResult = status.Raw
	order.Status = model.OrderStatusSynced
	if status.Filled() {
		order.Status = model.OrderStatusFilled
		order.FilledAveragePrice = status.AveragePrice
		order.FilledQuantity = status.ExecutedQuantity
	}

	if err := d.orders.Save(ctx, order); err != nil {
		return err
	}

	d.log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"position_id": pos.ID,
		"type":        order.Type,
		"symbol":      symbol.Symbol,
		"price":       req.Price,
		"quantity":    req.Quantity,
		"status":      order.Status,
	}).Info("Order leg placed")

	return nil
}

// entryFills collects executed entry legs, refreshing any synced leg
// that has no recorded fill yet against the exchange.
func (d *Dispatcher) entryFills(ctx context.Context, symbol string, siblings []model.Order) ([]pricing.Fill, error) {
	var fills []pricing.Fill

	for i := range siblings {
		leg := &siblings[i]
		if leg.Type == model.OrderTypeProfit || leg.Type == model.OrderTypeCancelPosition {
			continue
		}

		if leg.FilledQuantity.IsZero() && leg.Status == model.OrderStatusSynced && leg.OrderExchangeSystemID != "" {
			status, err := d.caller.GetOrder(ctx, symbol, leg.OrderExchangeSystemID)
			if err != nil {
				return nil, err
			}
			if status.Filled() {
				leg.FilledAveragePrice = status.AveragePrice
				leg.FilledQuantity = status.ExecutedQuantity
				leg.Status = model.OrderStatusFilled
				leg.ApiResult = status.Raw
				if err := d.orders.Save(ctx, leg); err != nil {
					return nil, err
				}
			}
		}

		if leg.FilledQuantity.GreaterThan(decimal.Zero) {
			fills = append(fills, pricing.Fill{
				Quantity: leg.FilledQuantity,
				Price:    leg.FilledAveragePrice,
			})
		}
	}

	return fills, nil
}

// Cancel revokes one synced leg on the exchange. Used by the rollback
// compensation; legs that never reached the exchange are cancelled
// locally.
func (d *Dispatcher) Cancel(ctx context.Context, orderID uint) error {
	order, err := d.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("order %d not found", orderID)
	}

	switch order.Status {
	case model.OrderStatusCancelled:
		return nil
	case model.OrderStatusNew:
		return d.orders.UpdateStatus(ctx, order.ID, model.OrderStatusCancelled)
	case model.OrderStatusFilled:
		// Executed quantity is reclaimed by the rollback flatten, the
		// leg itself has nothing left to cancel.
		return nil
	}

	pos, err := d.positions.FindByID(ctx, order.PositionID)
	if err != nil {
		return err
	}
	symbol, err := d.symbols.FindByID(ctx, pos.ExchangeSymbolID)
	if err != nil {
		return err
	}
	if symbol == nil {
		return fmt.Errorf("position %d has no bound symbol", pos.ID)
	}

	if err := d.caller.CancelOrder(ctx, symbol.Symbol, order.OrderExchangeSystemID); err != nil {
		exceptions.Capture(ctx, d.excs, "position_executor", "orderexec", "Cancel", "error", err,
			map[string]interface{}{"order_id": order.ID, "position_id": pos.ID})

		if mErr := d.orders.MarkError(ctx, order.ID, err.Error()); mErr != nil {
			return mErr
		}
		return nil
	}

	d.log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"position_id": pos.ID,
		"symbol":      symbol.Symbol,
	}).Info("Order leg cancelled")

	return d.orders.UpdateStatus(ctx, order.ID, model.OrderStatusCancelled)
}
