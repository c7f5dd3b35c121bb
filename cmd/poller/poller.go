package poller

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"ladderexecutor/src/database"
	"ladderexecutor/src/gateway"
	"ladderexecutor/src/jobs"
	"ladderexecutor/src/repository"
	"ladderexecutor/src/repricer"
	"ladderexecutor/src/security"
)

type Poller struct{}

func (p *Poller) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	caller, err := buildCaller(ctx, config.TraderName)
	if err != nil {
		logrus.WithError(err).Error("Failed to build exchange caller")
		return err
	}

	registry := jobs.NewRegistry(database.MainDB, caller)
	worker := jobs.NewPoller(database.MainDB, registry, jobs.PollerOptions{
		Interval:        config.PollInterval,
		MaxParallel:     config.MaxParallel,
		StaleAfter:      config.StaleAfter,
		RescheduleDelay: config.RescheduleDelay,
	})

	go runRepriceSweep(ctx, caller, config.RepriceSweepInterval)

	logrus.WithFields(logrus.Fields{
		"trader":       config.TraderName,
		"max_parallel": config.MaxParallel,
	}).Info("Starting job poller for trader")

	worker.StartLoop(ctx)
	return nil
}

// buildCaller resolves the trader's encrypted credentials and wires the
// rate-limited exchange call path.
func buildCaller(ctx context.Context, traderName string) (gateway.Caller, error) {
	trader, err := repository.NewTraderRepository().FindByName(ctx, traderName)
	if err != nil {
		return nil, err
	}
	if trader == nil {
		return nil, fmt.Errorf("trader %q not found", traderName)
	}

	apiKey, err := security.DecryptString(trader.APIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API key: %w", err)
	}
	apiSecret, err := security.DecryptString(trader.APISecretHash)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API secret: %w", err)
	}

	return gateway.NewCallerFromEnv(database.MainDB, apiKey, apiSecret)
}

// runRepriceSweep periodically re-prices every open position as a
// safety net for missed mark price ticks.
func runRepriceSweep(ctx context.Context, caller gateway.Caller, interval time.Duration) {
	pricer := repricer.NewRepricer(database.MainDB, caller)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pricer.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("Reprice sweep failed")
			}
		}
	}
}
