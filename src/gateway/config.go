package gateway

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Exchange string `envconfig:"TARGET_EXCHANGE" default:"binance-futures"`
	BaseURL  string `envconfig:"GATEWAY_BASE_URL" default:"https://testnet.binancefuture.com"`

	// Addresses lists the egress addresses outbound calls may bind to.
	// "default" means the host's routing choice.
	Addresses       []string `envconfig:"GATEWAY_ADDRESSES" default:"default"`
	BalanceStrategy string   `envconfig:"GATEWAY_BALANCE_STRATEGY" default:"least-weight"` // fixed | round-robin | least-weight

	// WeightCeiling is the per-address per-minute weight budget,
	// PenaltyWeight the amount added to an address after a 429.
	WeightCeiling int64 `envconfig:"GATEWAY_WEIGHT_CEILING" default:"1200"`
	PenaltyWeight int64 `envconfig:"GATEWAY_PENALTY_WEIGHT" default:"240"`

	RetryAttempts  int           `envconfig:"GATEWAY_RETRY_ATTEMPTS" default:"3"`
	RequestTimeout time.Duration `envconfig:"GATEWAY_REQUEST_TIMEOUT" default:"15s"`
	RecvWindow     int64         `envconfig:"GATEWAY_RECV_WINDOW" default:"5000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
