package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ladderexecutor/src/model"
)

// Exchange order statuses as reported by the USDT-M futures API.
const (
	ExchangeOrderStatusNew             = "NEW"
	ExchangeOrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	ExchangeOrderStatusFilled          = "FILLED"
	ExchangeOrderStatusCanceled        = "CANCELED"
)

// OrderStatus is the uniform view of one exchange order.
type OrderStatus struct {
	ExchangeOrderID  string
	ClientOrderID    string
	Status           string
	ExecutedQuantity decimal.Decimal
	AveragePrice     decimal.Decimal
	Raw              string
}

// Filled reports whether the order counts as executed: terminal-filled
// status with a nonzero executed quantity.
func (s *OrderStatus) Filled() bool {
	return s.Status == ExchangeOrderStatusFilled && s.ExecutedQuantity.GreaterThan(decimal.Zero)
}

// PlaceOrderRequest describes one order leg to submit.
type PlaceOrderRequest struct {
	Symbol     string
	Side       string // BUY | SELL
	Type       string // LIMIT | MARKET | TAKE_PROFIT_MARKET
	Quantity   decimal.Decimal
	Price      decimal.Decimal // zero for market orders
	ReduceOnly bool
}

// AmendOrderRequest modifies a resting order's price and quantity.
type AmendOrderRequest struct {
	Symbol          string
	ExchangeOrderID string
	Side            string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
}

// PositionRisk is the live position snapshot for one symbol.
type PositionRisk struct {
	Symbol           string
	PositionAmt      decimal.Decimal // signed: negative for shorts
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedProfit decimal.Decimal
}

// LeverageBracket maps a leverage tier to its notional cap.
type LeverageBracket struct {
	Leverage    int
	NotionalCap decimal.Decimal
}

// Caller is the uniform exchange verb set the state machines consume,
// keeping the orchestrator and dispatch logic exchange-agnostic.
type Caller interface {
	GetOrder(ctx context.Context, symbol, exchangeOrderID string) (*OrderStatus, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderStatus, error)
	AmendOrder(ctx context.Context, req AmendOrderRequest) (*OrderStatus, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	CancelOpenOrders(ctx context.Context, symbol string) error
	GetPositions(ctx context.Context, symbol string) ([]PositionRisk, error)
	GetAccountBalance(ctx context.Context) (decimal.Decimal, error)
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	SetDefaultLeverage(ctx context.Context, symbol string, leverage int) error
	UpdateMarginType(ctx context.Context, symbol, marginType string) error
	GetLeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error)
}

// FuturesCaller implements Caller against the USDT-M futures REST API
// through the rate-limited client.
type FuturesCaller struct {
	client *Client
}

func NewFuturesCaller(client *Client) *FuturesCaller {
	return &FuturesCaller{client: client}
}

type exchangeOrderPayload struct {
	OrderID       json.Number `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Status        string      `json:"status"`
	ExecutedQty   string      `json:"executedQty"`
	AvgPrice      string      `json:"avgPrice"`
}

func decodeOrderStatus(body []byte) (*OrderStatus, error) {
	var payload exchangeOrderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode order payload: %w", err)
	}

	executed, err := parseDecimal(payload.ExecutedQty)
	if err != nil {
		return nil, err
	}
	avg, err := parseDecimal(payload.AvgPrice)
	if err != nil {
		return nil, err
	}

	return &OrderStatus{
		ExchangeOrderID:  payload.OrderID.String(),
		ClientOrderID:    payload.ClientOrderID,
		Status:           payload.Status,
		ExecutedQuantity: executed,
		AveragePrice:     avg,
		Raw:              string(body),
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

func (c *FuturesCaller) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (*OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)

	body, err := c.client.Request(ctx, http.MethodGet, "/fapi/v1/order", true, params)
	if err != nil {
		return nil, err
	}
	return decodeOrderStatus(body)
}

func (c *FuturesCaller) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", "lx-"+uuid.NewString())
	if !req.Price.IsZero() {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.client.Request(ctx, http.MethodPost, "/fapi/v1/order", true, params)
	if err != nil {
		return nil, err
	}
	return decodeOrderStatus(body)
}

func (c *FuturesCaller) AmendOrder(ctx context.Context, req AmendOrderRequest) (*OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("orderId", req.ExchangeOrderID)
	params.Set("side", req.Side)
	params.Set("quantity", req.Quantity.String())
	params.Set("price", req.Price.String())

	body, err := c.client.Request(ctx, http.MethodPut, "/fapi/v1/order", true, params)
	if err != nil {
		return nil, err
	}
	return decodeOrderStatus(body)
}

func (c *FuturesCaller) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)

	_, err := c.client.Request(ctx, http.MethodDelete, "/fapi/v1/order", true, params)
	return err
}

func (c *FuturesCaller) CancelOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	_, err := c.client.Request(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", true, params)
	return err
}

func (c *FuturesCaller) GetPositions(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.client.Request(ctx, http.MethodGet, "/fapi/v2/positionRisk", true, params)
	if err != nil {
		return nil, err
	}

	var payload []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode positions payload: %w", err)
	}

	positions := make([]PositionRisk, 0, len(payload))
	for _, p := range payload {
		amt, err := parseDecimal(p.PositionAmt)
		if err != nil {
			return nil, err
		}
		entry, err := parseDecimal(p.EntryPrice)
		if err != nil {
			return nil, err
		}
		mark, err := parseDecimal(p.MarkPrice)
		if err != nil {
			return nil, err
		}
		pnl, err := parseDecimal(p.UnRealizedProfit)
		if err != nil {
			return nil, err
		}
		positions = append(positions, PositionRisk{
			Symbol:           p.Symbol,
			PositionAmt:      amt,
			EntryPrice:       entry,
			MarkPrice:        mark,
			UnrealizedProfit: pnl,
		})
	}

	return positions, nil
}

func (c *FuturesCaller) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.client.Request(ctx, http.MethodGet, "/fapi/v2/balance", true, url.Values{})
	if err != nil {
		return decimal.Zero, err
	}

	var payload []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode balance payload: %w", err)
	}

	for _, entry := range payload {
		if entry.Asset == "USDT" {
			return parseDecimal(entry.AvailableBalance)
		}
	}

	return decimal.Zero, nil
}

func (c *FuturesCaller) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.client.Request(ctx, http.MethodGet, "/fapi/v1/premiumIndex", false, params)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode mark price payload: %w", err)
	}

	return parseDecimal(payload.MarkPrice)
}

func (c *FuturesCaller) SetDefaultLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	_, err := c.client.Request(ctx, http.MethodPost, "/fapi/v1/leverage", true, params)
	return err
}

func (c *FuturesCaller) UpdateMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)

	_, err := c.client.Request(ctx, http.MethodPost, "/fapi/v1/marginType", true, params)
	return err
}

func (c *FuturesCaller) GetLeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.client.Request(ctx, http.MethodGet, "/fapi/v1/leverageBracket", true, params)
	if err != nil {
		return nil, err
	}

	var payload []struct {
		Symbol   string `json:"symbol"`
		Brackets []struct {
			InitialLeverage int     `json:"initialLeverage"`
			NotionalCap     float64 `json:"notionalCap"`
		} `json:"brackets"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode leverage brackets payload: %w", err)
	}

	var brackets []LeverageBracket
	for _, entry := range payload {
		if entry.Symbol != symbol {
			continue
		}
		for _, b := range entry.Brackets {
			brackets = append(brackets, LeverageBracket{
				Leverage:    b.InitialLeverage,
				NotionalCap: decimal.NewFromFloat(b.NotionalCap),
			})
		}
	}

	if len(brackets) == 0 {
		return nil, fmt.Errorf("no leverage brackets returned for %s", symbol)
	}

	return brackets, nil
}

// OrderSideFor maps a position side to the exchange side of an entry
// order; exits take the opposite.
func OrderSideFor(positionSide string, exit bool) string {
	long := positionSide == model.SideLong
	if exit {
		long = !long
	}
	if long {
		return "BUY"
	}
	return "SELL"
}
