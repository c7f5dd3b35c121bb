package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ladderexecutor/cmd/keys"
	"ladderexecutor/cmd/markprice"
	"ladderexecutor/cmd/poller"
	"ladderexecutor/src/database"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Ladder Executor CMD"
	app.Usage = "The ladder executor command line interface"

	app.Commands = []cli.Command{
		pollerCMD,
		markPriceCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	pollerCMD = cli.Command{
		Name:        "poller",
		Usage:       "run Job Poller",
		Action:      pollerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run Job Poller CMD`,
	}
	markPriceCMD = cli.Command{
		Name:        "markprice",
		Usage:       "run Mark Price ingestion",
		Action:      markPriceAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run Mark Price ingestion CMD`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "manage trader credentials",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the interactive trader credential console`,
	}
)

func pollerAction(_ *cli.Context) error {

	logrus.Info("Starting poller CMD")
	logrus.WithField("cmd", "poller")

	worker := &poller.Poller{}
	err := worker.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

// markPriceAction keeps the symbol mark prices fresh and enqueues
// re-price jobs on movement.
func markPriceAction(_ *cli.Context) error {

	logrus.Info("Starting mark price CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	ingestor := &markprice.MarkPrice{
		Log: logrus.WithField("cmd", "markprice"),
		DB:  database.MainDB,
	}

	err := ingestor.Start(ctx)
	if err != nil {
		logrus.WithError(err).Error("Starting mark price cmd")
		return err
	}

	return nil
}

func keysAction(_ *cli.Context) error {

	logrus.Info("Starting keys CMD")

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	console := &keys.CLI{Config: keys.GetConfig()}
	err := console.Start(ctx)
	if err != nil {
		logrus.WithError(err).Error("Starting keys cmd")
		return err
	}

	return nil
}
