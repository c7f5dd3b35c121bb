package poller

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// TraderName selects the account this worker trades for. The
	// trader's encrypted API credentials come from the database.
	TraderName string `envconfig:"TRADER_NAME" required:"true"`

	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	MaxParallel     int           `envconfig:"MAX_PARALLEL_JOBS" default:"4"`
	StaleAfter      time.Duration `envconfig:"STALE_LEASE_AFTER" default:"10m"`
	RescheduleDelay time.Duration `envconfig:"RESCHEDULE_DELAY" default:"5s"`

	// RepriceSweepInterval drives the periodic safety-net sweep that
	// re-prices positions even when no mark price tick arrives.
	RepriceSweepInterval time.Duration `envconfig:"REPRICE_SWEEP_INTERVAL" default:"1m"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
