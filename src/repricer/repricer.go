package repricer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/exceptions"
	"ladderexecutor/src/gateway"
	"ladderexecutor/src/model"
	"ladderexecutor/src/pricing"
	"ladderexecutor/src/repository"
)

// Repricer keeps the PROFIT leg of open positions aligned with what
// actually filled: as LIMIT entry legs execute, the weighted average
// entry price moves and the exit order is amended to match.
type Repricer struct {
	log *logrus.Entry

	positions *repository.PositionRepository
	orders    *repository.OrderRepository
	symbols   *repository.SymbolRepository
	queue     *repository.JobQueueRepository
	excs      *repository.ExceptionRepository

	caller gateway.Caller
	now    func() time.Time
}

func NewRepricer(db *gorm.DB, caller gateway.Caller) *Repricer {
	return &Repricer{
		log:       logrus.WithField("component", "repricer.Repricer"),
		positions: repository.NewPositionRepository().WithDB(db),
		orders:    repository.NewOrderRepository().WithDB(db),
		symbols:   repository.NewSymbolRepository().WithDB(db),
		queue:     repository.NewJobQueueRepository().WithDB(db),
		excs:      repository.NewExceptionRepository().WithDB(db),
		caller:    caller,
		now:       time.Now,
	}
}

// Sweep re-prices every candidate position. Per-position failures are
// captured and do not stop the sweep.
func (r *Repricer) Sweep(ctx context.Context) error {
	candidates, err := r.positions.FindRepriceCandidates(ctx)
	if err != nil {
		return err
	}

	for i := range candidates {
		if err := r.RepricePosition(ctx, candidates[i].ID); err != nil {
			exceptions.Capture(ctx, r.excs, "position_executor", "repricer", "Sweep", "error", err,
				map[string]interface{}{"position_id": candidates[i].ID})
		}
	}

	return nil
}

// RepricePosition refreshes fills, recomputes the weighted average
// entry price and amends the PROFIT leg. The locked status is the
// re-entrancy guard: a position already locked by a concurrent
// re-price or close is skipped.
func (r *Repricer) RepricePosition(ctx context.Context, positionID uint) error {
	origin, err := r.lock(ctx, positionID)
	if err != nil || origin == "" {
		return err
	}

	repriceErr := r.reprice(ctx, positionID)

	// Release the guard even when the amend failed; an error position
	// stays visible to the next sweep.
	if _, err := r.positions.TryTransition(ctx, positionID, model.PositionStatusLocked, origin); err != nil {
		return err
	}

	return repriceErr
}

// lock claims the re-entrancy guard and reports the status to restore.
// Empty origin means the position was not in a re-priceable state.
func (r *Repricer) lock(ctx context.Context, positionID uint) (string, error) {
	for _, status := range []string{model.PositionStatusSynced, model.PositionStatusSyncing} {
		ok, err := r.positions.TryTransition(ctx, positionID, status, model.PositionStatusLocked)
		if err != nil {
			return "", err
		}
		if ok {
			return status, nil
		}
	}

	r.log.WithField("position_id", positionID).Debug("Position not re-priceable, skipping")
	return "", nil
}

func (r *Repricer) reprice(ctx context.Context, positionID uint) error {
	pos, err := r.positions.FindByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("position %d not found", positionID)
	}

	symbol, err := r.symbols.FindByID(ctx, pos.ExchangeSymbolID)
	if err != nil {
		return err
	}
	if symbol == nil {
		return fmt.Errorf("position %d has no bound symbol", pos.ID)
	}

	var (
		fills  []pricing.Fill
		profit *model.Order
	)

	for i := range pos.Orders {
		leg := &pos.Orders[i]

		switch leg.Type {
		case model.OrderTypeProfit:
			profit = leg
			continue
		case model.OrderTypeCancelPosition:
			continue
		}

		// Only synced legs can have moved since the last look.
		if leg.Status == model.OrderStatusSynced && leg.OrderExchangeSystemID != "" {
			status, err := r.caller.GetOrder(ctx, symbol.Symbol, leg.OrderExchangeSystemID)
			if err != nil {
				return err
			}
			if status.Filled() {
				// Persist the fill before touching the exchange again:
				// if the amend fails the fill is not re-fetched blind.
				leg.FilledAveragePrice = status.AveragePrice
				leg.FilledQuantity = status.ExecutedQuantity
				leg.Status = model.OrderStatusFilled
				leg.ApiResult = status.Raw
				if err := r.orders.Save(ctx, leg); err != nil {
					return err
				}
			}
		}

		if leg.Status == model.OrderStatusFilled && leg.FilledQuantity.GreaterThan(decimal.Zero) {
			fills = append(fills, pricing.Fill{
				Quantity: leg.FilledQuantity,
				Price:    leg.FilledAveragePrice,
			})
		}
	}

	if profit == nil || profit.OrderExchangeSystemID == "" {
		return nil
	}

	// A filled exit means the position is done: hand off to close
	// instead of amending a dead order.
	status, err := r.caller.GetOrder(ctx, symbol.Symbol, profit.OrderExchangeSystemID)
	if err != nil {
		return err
	}
	if status.Filled() {
		profit.FilledAveragePrice = status.AveragePrice
		profit.FilledQuantity = status.ExecutedQuantity
		profit.ApiResult = status.Raw
		if err := r.orders.Save(ctx, profit); err != nil {
			return err
		}

		if _, err := r.queue.Enqueue(ctx, model.JobClassClosePosition,
			[]string{fmt.Sprint(pos.ID)}, uuid.NewString()); err != nil {
			return err
		}

		r.log.WithField("position_id", pos.ID).Info("Profit leg filled, close enqueued")
		return nil
	}

	avg, total, ok := pricing.WeightedAverage(fills)
	if !ok {
		return nil
	}

	price := pricing.SnapToTick(
		pricing.ProfitPrice(avg, pos.InitialProfitPercentageRatio, pos.Side),
		symbol.TickSize)
	quantity := pricing.RoundQuantity(total, symbol.QuantityPrecision)

	// Stored exit values advance only on a successful amend, so a
	// failed or interrupted amend stays unequal and is retried here.
	if price.Equal(profit.EntryAveragePrice) && quantity.Equal(profit.EntryQuantity) {
		return nil
	}

	amended, err := r.caller.AmendOrder(ctx, gateway.AmendOrderRequest{
		Symbol:          symbol.Symbol,
		ExchangeOrderID: profit.OrderExchangeSystemID,
		Side:            gateway.OrderSideFor(pos.Side, true),
		Quantity:        quantity,
		Price:           price,
	})
	if err != nil {
		return err
	}

	profit.EntryAveragePrice = price
	profit.EntryQuantity = quantity
	profit.OrderExchangeSystemID = amended.ExchangeOrderID
	profit.ApiResult = amended.Raw
	if err := r.orders.Save(ctx, profit); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"position_id":   pos.ID,
		"symbol":        symbol.Symbol,
		"average_entry": avg,
		"exit_price":    price,
		"exit_quantity": quantity,
	}).Info("Profit leg re-priced")

	return nil
}
