package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"ladderexecutor/src/database"
	"ladderexecutor/src/gateway"
	"ladderexecutor/src/position"
	"ladderexecutor/src/repository"
	"ladderexecutor/src/security"
	"ladderexecutor/src/server"

	logger "github.com/sirupsen/logrus"
)

var (
	PORT        = os.Getenv("SERVER_PORT")
	APP_NAME    = os.Getenv("APP_NAME")
	TRADER_NAME = os.Getenv("TRADER_NAME")
)

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	orchestrator, err := buildOrchestrator(context.Background())
	if err != nil {
		logger.WithError(err).Fatal("Failed to wire position orchestrator")
	}

	server.StartServer(PORT, orchestrator)
}

// buildOrchestrator wires the admin server's position opener against
// the configured trader's exchange credentials.
func buildOrchestrator(ctx context.Context) (*position.Orchestrator, error) {
	trader, err := repository.NewTraderRepository().FindByName(ctx, TRADER_NAME)
	if err != nil {
		return nil, err
	}
	if trader == nil {
		return nil, fmt.Errorf("trader %q not found", TRADER_NAME)
	}

	apiKey, err := security.DecryptString(trader.APIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API key: %w", err)
	}
	apiSecret, err := security.DecryptString(trader.APISecretHash)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API secret: %w", err)
	}

	caller, err := gateway.NewCallerFromEnv(database.MainDB, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}

	return position.NewOrchestrator(database.MainDB, caller), nil
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
