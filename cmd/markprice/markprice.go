package markprice

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/gateway"
	"ladderexecutor/src/model"
	"ladderexecutor/src/repository"
)

// MarkPrice keeps exchange_symbols.last_mark_price fresh and turns
// price movement into re-price jobs for open positions. Two sources:
// the websocket mark price stream, or REST ticker polling through goex
// when the stream is disabled.
type MarkPrice struct {
	Log    *logger.Entry
	DB     *gorm.DB
	Config *Config

	exchange  goex.API
	symbols   *repository.SymbolRepository
	positions *repository.PositionRepository
	queue     *repository.JobQueueRepository

	mu           sync.Mutex
	lastEnqueued map[uint]time.Time
}

func (m *MarkPrice) Start(ctx context.Context) error {
	m.Config = GetConfig()
	m.exchange = m.newBinanceInstance()
	m.symbols = repository.NewSymbolRepository().WithDB(m.DB)
	m.positions = repository.NewPositionRepository().WithDB(m.DB)
	m.queue = repository.NewJobQueueRepository().WithDB(m.DB)
	m.lastEnqueued = make(map[uint]time.Time)

	rows, err := m.symbols.FindEnabled(ctx, m.Config.TargetExchange)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		m.Log.WithField("exchange", m.Config.TargetExchange).Warn("No enabled symbols, nothing to ingest")
		return nil
	}

	byName := make(map[string]model.ExchangeSymbol, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		byName[row.Symbol] = row
		names = append(names, row.Symbol)
	}

	if m.Config.StreamEnabled {
		stream := gateway.NewMarkStream(m.Config.StreamWSBaseURL, names, func(update gateway.MarkPriceUpdate) {
			m.onTick(ctx, byName, update.Symbol, update.MarkPrice)
		})
		return stream.Run(ctx)
	}

	return m.pollLoop(ctx, byName)
}

func (*MarkPrice) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

func (m *MarkPrice) pollLoop(ctx context.Context, byName map[string]model.ExchangeSymbol) error {
	ticker := time.NewTicker(m.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for name := range byName {
				price, err := m.fetchTicker(name)
				if err != nil {
					m.Log.WithError(err).WithField("symbol", name).Error("Failed to fetch ticker")
					continue
				}
				m.onTick(ctx, byName, name, price)
			}
		}
	}
}

func (m *MarkPrice) fetchTicker(symbol string) (decimal.Decimal, error) {
	base := strings.TrimSuffix(symbol, m.Config.Quote)
	pair := goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: m.Config.Quote})

	ticker, err := m.exchange.GetTicker(pair)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromFloat(ticker.Last), nil
}

func (m *MarkPrice) onTick(ctx context.Context, byName map[string]model.ExchangeSymbol, symbol string, price decimal.Decimal) {
	row, ok := byName[symbol]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return
	}

	if err := m.symbols.UpdateLastMarkPrice(ctx, row.ID, price); err != nil {
		m.Log.WithError(err).WithField("symbol", symbol).Error("Failed to store mark price")
		return
	}

	candidates, err := m.positions.FindRepriceCandidates(ctx)
	if err != nil {
		m.Log.WithError(err).Error("Failed to list reprice candidates")
		return
	}

	for i := range candidates {
		pos := &candidates[i]
		if pos.ExchangeSymbolID != row.ID {
			continue
		}
		if !m.shouldEnqueue(pos.ID) {
			continue
		}

		if _, err := m.queue.Enqueue(ctx, model.JobClassRepricePosition,
			[]string{fmt.Sprint(pos.ID)}, uuid.NewString()); err != nil {
			m.Log.WithError(err).WithField("position_id", pos.ID).Error("Failed to enqueue reprice")
			continue
		}

		m.Log.WithFields(logger.Fields{
			"symbol":      symbol,
			"position_id": pos.ID,
			"mark_price":  price,
		}).Info("Reprice enqueued from mark price tick")
	}
}

// shouldEnqueue rate-limits reprice jobs per position so a busy tick
// stream does not flood the ledger.
func (m *MarkPrice) shouldEnqueue(positionID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if last, ok := m.lastEnqueued[positionID]; ok && now.Sub(last) < m.Config.RepriceMinInterval {
		return false
	}
	m.lastEnqueued[positionID] = now
	return true
}
