package markprice

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	TargetExchange string `envconfig:"TARGET_EXCHANGE" default:"binance-futures"`
	Quote          string `envconfig:"QUOTE" default:"USDT"`

	// StreamEnabled switches from REST polling to the websocket mark
	// price feed.
	StreamEnabled   bool   `envconfig:"MARK_STREAM_ENABLED" default:"false"`
	StreamWSBaseURL string `envconfig:"MARK_STREAM_WS_BASE_URL" default:"wss://fstream.binance.com"`

	PollInterval time.Duration `envconfig:"MARK_POLL_INTERVAL" default:"15s"`

	// RepriceMinInterval throttles how often one position may be
	// re-enqueued for re-pricing by incoming ticks.
	RepriceMinInterval time.Duration `envconfig:"REPRICE_MIN_INTERVAL" default:"30s"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
