package position

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
	"ladderexecutor/src/orderexec"
	"ladderexecutor/src/repository"
	"ladderexecutor/src/risk"
)

// MarginTypeCross is pushed to the exchange for every new position.
const MarginTypeCross = "CROSSED"

// Orchestrator owns the position lifecycle: turning a new position
// into a fully-ordered, monitored trade, validating the outcome of its
// order batch, and compensating (rollback) on partial failure.
type Orchestrator struct {
	log *logrus.Entry

	positions *repository.PositionRepository
	orders    *repository.OrderRepository
	symbols   *repository.SymbolRepository
	traders   *repository.TraderRepository
	queue     *repository.JobQueueRepository
	excs      *repository.ExceptionRepository

	caller gateway.Caller
	now    func() time.Time

	sessionSizing bool
	sizing        risk.SessionSizeConfig
}

func NewOrchestrator(db *gorm.DB, caller gateway.Caller) *Orchestrator {
	return &Orchestrator{
		log:       logrus.WithField("component", "position.Orchestrator"),
		positions: repository.NewPositionRepository().WithDB(db),
		orders:    repository.NewOrderRepository().WithDB(db),
		symbols:   repository.NewSymbolRepository().WithDB(db),
		traders:   repository.NewTraderRepository().WithDB(db),
		queue:     repository.NewJobQueueRepository().WithDB(db),
		excs:      repository.NewExceptionRepository().WithDB(db),
		caller:    caller,
		now:       time.Now,

		sessionSizing: GetConfig().SessionSizingEnabled,
		sizing:        risk.DefaultSessionSizeConfig(),
	}
}

// WithSessionSizing turns on session-based trade amount scaling with
// the given multipliers.
func (o *Orchestrator) WithSessionSizing(cfg risk.SessionSizeConfig) *Orchestrator {
	o.sessionSizing = true
	o.sizing = cfg
	return o
}

// OpenNew creates a fresh position for a trader and enqueues its
// dispatch job. tradeConfiguration may be empty, in which case the
// trader's default plan applies at dispatch time.
func (o *Orchestrator) OpenNew(ctx context.Context, traderID uint, tradeConfiguration string) (*model.Position, error) {
	trader, err := o.traders.FindByID(ctx, traderID)
	if err != nil {
		return nil, err
	}
	if trader == nil {
		return nil, fmt.Errorf("trader %d not found", traderID)
	}
	if !trader.Enabled {
		return nil, fmt.Errorf("trader %s is disabled", trader.Name)
	}

	if tradeConfiguration == "" {
		tradeConfiguration = trader.DefaultTradeConfiguration
	}
	if _, err := model.ParseTradeConfiguration(tradeConfiguration); err != nil {
		return nil, err
	}

	pos := &model.Position{
		TraderID:           traderID,
		Status:             model.PositionStatusNew,
		TradeConfiguration: tradeConfiguration,
	}
	if err := o.positions.Create(ctx, pos); err != nil {
		return nil, err
	}

	if _, err := o.queue.Enqueue(ctx, model.JobClassDispatchPosition,
		[]string{fmt.Sprint(pos.ID)}, uuid.NewString()); err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"trader_id":   traderID,
	}).Info("New position opened and dispatch enqueued")

	return pos, nil
}

// Dispatch prepares a new position for the exchange: sizing, symbol
// selection, margin and leverage, mark price, and the ladder order
// batch plus its jobs. Any failure marks the position error and
// re-raises with the position id attached.
func (o *Orchestrator) Dispatch(ctx context.Context, positionID uint) error {
	pos, err := o.positions.FindByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos == nil {
		return &ValidationError{PositionID: positionID, Reason: "position not found"}
	}

	if err := o.dispatch(ctx, pos); err != nil {
		o.failPosition(ctx, pos.ID, "Dispatch", err)
		return fmt.Errorf("position %d dispatch failed: %w", pos.ID, err)
	}

	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, pos *model.Position) error {
	// 1) mandatory fields
	if pos.TraderID == 0 {
		return &ValidationError{PositionID: pos.ID, Reason: "no trader bound"}
	}
	if pos.Status != model.PositionStatusNew {
		return &ValidationError{PositionID: pos.ID, Reason: fmt.Sprintf("unexpected status %q", pos.Status)}
	}
	if pos.TradeConfiguration == "" {
		return &ValidationError{PositionID: pos.ID, Reason: "no trade configuration"}
	}

	cfg, err := model.ParseTradeConfiguration(pos.TradeConfiguration)
	if err != nil {
		return &ValidationError{PositionID: pos.ID, Reason: err.Error()}
	}

	trader, err := o.traders.FindByID(ctx, pos.TraderID)
	if err != nil {
		return err
	}
	if trader == nil {
		return &ValidationError{PositionID: pos.ID, Reason: "trader not found"}
	}

	// 2) trade amount from available balance
	if pos.TotalTradeAmount.LessThanOrEqual(decimal.Zero) {
		balance, err := o.caller.GetAccountBalance(ctx)
		if err != nil {
			return err
		}
		if balance.LessThanOrEqual(decimal.Zero) || balance.LessThan(trader.MinimumBalance) {
			return &InsufficientBalanceError{
				PositionID: pos.ID,
				Detail: fmt.Sprintf("available %s is below minimum %s",
					balance.String(), trader.MinimumBalance.String()),
			}
		}
		pos.TotalTradeAmount = balance.
			Mul(trader.TradePercentage).
			Div(decimal.NewFromInt(100)).
			Floor()

		if o.sessionSizing {
			scaled, sess := risk.ScaleTradeAmount(pos.TotalTradeAmount, o.now(), o.sizing)
			if scaled.LessThanOrEqual(decimal.Zero) {
				return &ValidationError{PositionID: pos.ID,
					Reason: fmt.Sprintf("trading paused for session %s", sess)}
			}
			pos.TotalTradeAmount = scaled.Floor()

			o.log.WithFields(logrus.Fields{
				"position_id": pos.ID,
				"session":     sess,
				"amount":      pos.TotalTradeAmount,
			}).Info("Trade amount scaled for session")
		}

		o.log.WithFields(logrus.Fields{
			"position_id": pos.ID,
			"balance":     balance,
			"amount":      pos.TotalTradeAmount,
		}).Info("Trade amount computed from balance")
	}

	// 3) symbol selection
	if pos.ExchangeSymbolID == 0 {
		held, err := o.positions.FindOpenSymbolIDs(ctx, pos.TraderID)
		if err != nil {
			return err
		}
		symbol, err := o.symbols.PickEligibleRandom(ctx, trader.Exchange, held)
		if err != nil {
			return err
		}
		if symbol == nil {
			return &ValidationError{PositionID: pos.ID, Reason: "no eligible symbol available"}
		}
		pos.ExchangeSymbolID = symbol.ID
	}

	symbol, err := o.symbols.FindByID(ctx, pos.ExchangeSymbolID)
	if err != nil {
		return err
	}
	if symbol == nil {
		return &ValidationError{PositionID: pos.ID, Reason: "bound symbol not found"}
	}

	// 4) side and profit ratio come from reference data and the plan
	pos.Side = symbol.Side
	pos.InitialProfitPercentageRatio = cfg.ProfitPercentageRatio

	// 5) margin mode and leverage
	if err := o.caller.UpdateMarginType(ctx, symbol.Symbol, MarginTypeCross); err != nil {
		return err
	}

	brackets, err := o.caller.GetLeverageBrackets(ctx, symbol.Symbol)
	if err != nil {
		return err
	}
	leverage := MaxLeverageForNotional(brackets, pos.TotalTradeAmount)
	if trader.PlannedLeverage > 0 && trader.PlannedLeverage < leverage {
		leverage = trader.PlannedLeverage
	}
	pos.Leverage = leverage

	if err := o.caller.SetDefaultLeverage(ctx, symbol.Symbol, leverage); err != nil {
		return err
	}

	// 6) mark price
	if pos.InitialMarkPrice.LessThanOrEqual(decimal.Zero) {
		mark, err := o.caller.GetMarkPrice(ctx, symbol.Symbol)
		if err != nil {
			return err
		}
		pos.InitialMarkPrice = mark
		if err := o.symbols.UpdateLastMarkPrice(ctx, symbol.ID, mark); err != nil {
			return err
		}
	}

	// 7) ladder order batch plus jobs, all under a single group
	orders := buildLadderOrders(pos, cfg)
	if err := o.orders.CreateBatch(ctx, orders); err != nil {
		return err
	}

	groupID := uuid.NewString()
	for _, order := range orders {
		if _, err := o.queue.Enqueue(ctx, model.JobClassDispatchOrder,
			[]string{fmt.Sprint(order.ID)}, groupID); err != nil {
			return err
		}
	}
	if _, err := o.queue.Enqueue(ctx, model.JobClassValidatePosition,
		[]string{fmt.Sprint(pos.ID)}, groupID); err != nil {
		return err
	}

	pos.Status = model.PositionStatusSyncing
	if err := o.positions.Save(ctx, pos); err != nil {
		return err
	}

	o.log.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"symbol":      symbol.Symbol,
		"side":        pos.Side,
		"leverage":    leverage,
		"legs":        len(orders),
		"group_id":    groupID,
	}).Info("Position dispatched")

	return nil
}

// buildLadderOrders materializes the plan's legs in ladder order:
// LIMIT entries, then the MARKET entry, then the PROFIT exit.
func buildLadderOrders(pos *model.Position, cfg *model.TradeConfiguration) []*model.Order {
	byType := func(want string) []*model.Order {
		var out []*model.Order
		for _, leg := range cfg.Legs {
			if leg.Type != want {
				continue
			}
			out = append(out, &model.Order{
				PositionID:           pos.ID,
				Type:                 leg.Type,
				Status:               model.OrderStatusNew,
				PriceRatioPercentage: leg.PriceRatioPercentage,
				AmountDivider:        leg.AmountDivider,
			})
		}
		return out
	}

	orders := byType(model.OrderTypeLimit)
	orders = append(orders, byType(model.OrderTypeMarket)...)
	orders = append(orders, byType(model.OrderTypeProfit)...)
	return orders
}

// Validate inspects the outcome of the position's order batch: any
// errored leg triggers the compensating rollback, a leg still waiting
// on the dispatch barrier defers the verdict, otherwise the position
// is synced. No-op for already synced or closed positions.
func (o *Orchestrator) Validate(ctx context.Context, positionID uint) error {
	pos, err := o.positions.FindByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos == nil {
		return &ValidationError{PositionID: positionID, Reason: "position not found"}
	}

	switch pos.Status {
	case model.PositionStatusSynced, model.PositionStatusClosed:
		return nil
	}

	for i := range pos.Orders {
		if pos.Orders[i].Status == model.OrderStatusError {
			o.log.WithFields(logrus.Fields{
				"position_id": pos.ID,
				"order_id":    pos.Orders[i].ID,
			}).Warn("Errored leg found during validation, rolling back position")

			return o.Rollback(ctx, positionID)
		}
	}

	// A barrier-deferred leg may still be waiting in the ledger behind
	// this entry. Defer the verdict until every leg left the new state.
	for i := range pos.Orders {
		if pos.Orders[i].Status == model.OrderStatusNew {
			o.log.WithFields(logrus.Fields{
				"position_id": pos.ID,
				"order_id":    pos.Orders[i].ID,
			}).Info("Leg not dispatched yet, deferring validation")

			return orderexec.ErrReschedule
		}
	}

	return o.positions.UpdateStatus(ctx, positionID, model.PositionStatusSynced)
}

// Rollback compensates a partially placed position: cancels every open
// exchange order, flattens any live exposure with an opposite MARKET
// order, records a CANCEL-POSITION audit leg and cancels the position.
// Invoking it on an already cancelled position performs no exchange
// calls.
func (o *Orchestrator) Rollback(ctx context.Context, positionID uint) error {
	pos, err := o.positions.FindByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos == nil {
		return &ValidationError{PositionID: positionID, Reason: "position not found"}
	}

	if pos.Status == model.PositionStatusCancelled {
		o.log.WithField("position_id", pos.ID).Info("Position already cancelled, rollback is a no-op")
		return nil
	}

	if err := o.rollback(ctx, pos); err != nil {
		exceptions.Capture(ctx, o.excs, "position_executor", "position", "Rollback", "error", err,
			map[string]interface{}{"position_id": pos.ID})
		return err
	}

	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, pos *model.Position) error {
	symbol, err := o.symbols.FindByID(ctx, pos.ExchangeSymbolID)
	if err != nil {
		return &RollbackError{PositionID: pos.ID, Step: "load symbol", Cause: err}
	}
	if symbol == nil {
		// Dispatch failed before a symbol was bound: nothing reached
		// the exchange, cancel locally.
		return o.positions.UpdateStatus(ctx, pos.ID, model.PositionStatusCancelled)
	}

	// One cancel job per open exchange order, under a fresh group so a
	// frozen original batch cannot block compensation.
	cancelGroup := uuid.NewString()
	for i := range pos.Orders {
		order := &pos.Orders[i]
		if order.Status != model.OrderStatusSynced || order.OrderExchangeSystemID == "" {
			continue
		}
		if order.Type == model.OrderTypeCancelPosition {
			continue
		}
		if _, err := o.queue.Enqueue(ctx, model.JobClassCancelOrder,
			[]string{fmt.Sprint(order.ID)}, cancelGroup); err != nil {
			return &RollbackError{PositionID: pos.ID, Step: "enqueue cancel", Cause: err}
		}
	}

	// Flatten whatever is live on the exchange.
	risks, err := o.caller.GetPositions(ctx, symbol.Symbol)
	if err != nil {
		return &RollbackError{PositionID: pos.ID, Step: "read live position", Cause: err}
	}

	realized := decimal.Zero
	for _, risk := range risks {
		if risk.Symbol != symbol.Symbol || risk.PositionAmt.IsZero() {
			continue
		}

		flattenSide := "SELL"
		if risk.PositionAmt.IsNegative() {
			flattenSide = "BUY"
		}

		status, err := o.caller.PlaceOrder(ctx, gateway.PlaceOrderRequest{
			Symbol:     symbol.Symbol,
			Side:       flattenSide,
			Type:       model.OrderTypeMarket,
			Quantity:   risk.PositionAmt.Abs(),
			ReduceOnly: true,
		})
		if err != nil {
			return &RollbackError{PositionID: pos.ID, Step: "flatten", Cause: err}
		}

		// Audit leg: captures what was closed out and at which prices.
		audit := &model.Order{
			PositionID:            pos.ID,
			Type:                  model.OrderTypeCancelPosition,
			Status:                model.OrderStatusFilled,
			EntryAveragePrice:     risk.EntryPrice,
			EntryQuantity:         risk.PositionAmt.Abs(),
			FilledAveragePrice:    risk.MarkPrice,
			FilledQuantity:        risk.PositionAmt.Abs(),
			OrderExchangeSystemID: status.ExchangeOrderID,
			ApiResult:             status.Raw,
		}
		if err := o.orders.CreateBatch(ctx, []*model.Order{audit}); err != nil {
			return &RollbackError{PositionID: pos.ID, Step: "record audit leg", Cause: err}
		}

		realized = realized.Add(risk.UnrealizedProfit)
	}

	pos.Status = model.PositionStatusCancelled
	pos.RealizedPnl = realized
	if err := o.positions.Save(ctx, pos); err != nil {
		return &RollbackError{PositionID: pos.ID, Step: "persist", Cause: err}
	}

	o.log.WithFields(logrus.Fields{
		"position_id":  pos.ID,
		"realized_pnl": realized,
	}).Warn("Position rolled back")

	return nil
}

// Close finishes a synced position whose PROFIT leg filled: remaining
// LIMIT entries are cancelled, realized PnL is recorded, and a fresh
// position is opened for the trader so capital keeps working.
func (o *Orchestrator) Close(ctx context.Context, positionID uint) error {
	// The locked status is the row guard: a concurrent close or
	// re-price loses this transition and backs off.
	locked, err := o.positions.TryTransition(ctx, positionID, model.PositionStatusSynced, model.PositionStatusLocked)
	if err != nil {
		return err
	}
	if !locked {
		o.log.WithField("position_id", positionID).Info("Position not synced or already locked, skipping close")
		return nil
	}

	pos, err := o.positions.FindByID(ctx, positionID)
	if err != nil {
		return err
	}

	symbol, err := o.symbols.FindByID(ctx, pos.ExchangeSymbolID)
	if err != nil {
		return err
	}
	if symbol == nil {
		return &ValidationError{PositionID: positionID, Reason: "bound symbol not found"}
	}

	for i := range pos.Orders {
		order := &pos.Orders[i]
		switch {
		case order.Type == model.OrderTypeLimit && order.Status == model.OrderStatusSynced:
			if err := o.caller.CancelOrder(ctx, symbol.Symbol, order.OrderExchangeSystemID); err != nil {
				return fmt.Errorf("position %d close: cancel leg %d: %w", pos.ID, order.ID, err)
			}
			if err := o.orders.UpdateStatus(ctx, order.ID, model.OrderStatusCancelled); err != nil {
				return err
			}
		case order.Type == model.OrderTypeProfit && order.Status == model.OrderStatusSynced:
			if err := o.orders.UpdateStatus(ctx, order.ID, model.OrderStatusFilled); err != nil {
				return err
			}
		}
	}

	realized := decimal.Zero
	risks, err := o.caller.GetPositions(ctx, symbol.Symbol)
	if err != nil {
		return fmt.Errorf("position %d close: read live position: %w", pos.ID, err)
	}
	for _, risk := range risks {
		if risk.Symbol == symbol.Symbol {
			realized = realized.Add(risk.UnrealizedProfit)
		}
	}

	pos.Status = model.PositionStatusClosed
	pos.RealizedPnl = realized
	if err := o.positions.Save(ctx, pos); err != nil {
		return err
	}

	o.log.WithFields(logrus.Fields{
		"position_id":  pos.ID,
		"realized_pnl": realized,
	}).Info("Position closed")

	// Capital recycling: closing a position seeds the next one.
	if _, err := o.OpenNew(ctx, pos.TraderID, pos.TradeConfiguration); err != nil {
		return fmt.Errorf("position %d close: seed successor: %w", pos.ID, err)
	}

	return nil
}

func (o *Orchestrator) failPosition(ctx context.Context, positionID uint, method string, cause error) {
	exceptions.Capture(ctx, o.excs, "position_executor", "position", method, "error", cause,
		map[string]interface{}{"position_id": positionID})

	if err := o.positions.MarkError(ctx, positionID, cause.Error()); err != nil {
		o.log.WithError(err).WithField("position_id", positionID).
			Error("Failed to persist error status")
	}
}
