package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// MarkPriceUpdate is one observed mark-price tick.
type MarkPriceUpdate struct {
	Symbol    string
	MarkPrice decimal.Decimal
}

// MarkStream subscribes to the exchange's mark-price websocket feed
// and delivers ticks to a handler. It reconnects with a flat backoff
// until the context is cancelled.
type MarkStream struct {
	url     string
	symbols []string
	handler func(MarkPriceUpdate)

	reconnectDelay time.Duration
}

func NewMarkStream(wsBaseURL string, symbols []string, handler func(MarkPriceUpdate)) *MarkStream {
	return &MarkStream{
		url:            wsBaseURL,
		symbols:        symbols,
		handler:        handler,
		reconnectDelay: 5 * time.Second,
	}
}

// Run blocks until ctx is done, maintaining the subscription.
func (s *MarkStream) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return fmt.Errorf("mark stream needs at least one symbol")
	}

	streams := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@markPrice")
	}
	endpoint := s.url + "/stream?streams=" + strings.Join(streams, "/")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.consume(ctx, endpoint); err != nil {
			logger.WithError(err).Warn("Mark price stream dropped, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *MarkStream) consume(ctx context.Context, endpoint string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial mark price stream: %w", err)
	}
	defer conn.Close()

	logger.WithField("endpoint", endpoint).Info("Mark price stream connected")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var frame struct {
			Data struct {
				Symbol    string `json:"s"`
				MarkPrice string `json:"p"`
			} `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if frame.Data.Symbol == "" {
			continue
		}

		price, err := decimal.NewFromString(frame.Data.MarkPrice)
		if err != nil {
			logger.WithField("symbol", frame.Data.Symbol).
				WithError(err).Warn("Dropping malformed mark price tick")
			continue
		}

		s.handler(MarkPriceUpdate{Symbol: frame.Data.Symbol, MarkPrice: price})
	}
}
