package keys

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	logger "github.com/sirupsen/logrus"

	"ladderexecutor/src/database"
	"ladderexecutor/src/model"
	"ladderexecutor/src/repository"
	"ladderexecutor/src/security"
)

func printUsage() {
	fmt.Println("Available commands:")
	fmt.Println("  help                             Show this help message")
	fmt.Println("  shutdown                         Exit the application")
	fmt.Println("  set_key <trader> <key> <secret>  Store encrypted exchange credentials for a trader")
	fmt.Println("  enable <trader>                  Allow the trader to open positions")
	fmt.Println("  disable <trader>                 Stop the trader from opening positions")
	fmt.Println("  list                             Show configured traders")
	fmt.Println()
}

// CLI is the interactive operator console for trader credentials.
// Keys never touch the database in clear text.
type CLI struct {
	Config Config
}

func (c *CLI) Start(ctx context.Context) error {
	if err := database.InitMainDB(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	traders := repository.NewTraderRepository()

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	printUsage()

	for {
		fmt.Print("cmd> ")

		if !reader.Scan() {
			return reader.Err()
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		switch cmd {

		case "shutdown":
			fmt.Println("Exiting CLI...")
			return nil

		case "help":
			printUsage()

		case "set_key":
			if len(parts) < 4 {
				printUsage()
				continue
			}
			name, key, secret := parts[1], parts[2], parts[3]

			encryptedKey, err := security.EncryptString(key)
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt key")
				continue
			}

			encryptedSecret, err := security.EncryptString(secret)
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt secret")
				continue
			}

			trader, err := traders.FindByName(ctx, name)
			if err != nil {
				logger.WithError(err).Error("Failed to look up trader")
				continue
			}
			if trader == nil {
				trader = &model.Trader{
					Name:     name,
					Exchange: c.Config.Exchange,
				}
			}

			trader.APIKeyHash = encryptedKey
			trader.APISecretHash = encryptedSecret

			if err := traders.Upsert(ctx, trader); err != nil {
				logger.WithError(err).Error("Failed to upsert trader")
				continue
			}
			fmt.Printf("Credentials stored for trader %q on %s\n", name, trader.Exchange)

		case "enable", "disable":
			if len(parts) < 2 {
				printUsage()
				continue
			}
			name := parts[1]

			if err := traders.SetEnabled(ctx, name, cmd == "enable"); err != nil {
				logger.WithError(err).WithField("trader", name).Error("Failed to update trader")
				continue
			}
			fmt.Printf("Trader %q %sd\n", name, cmd)

		case "list":
			all, err := traders.FindAll(ctx)
			if err != nil {
				logger.WithError(err).Error("Failed to list traders")
				continue
			}
			for _, t := range all {
				state := "disabled"
				if t.Enabled {
					state = "enabled"
				}
				hasKeys := t.APIKeyHash != "" && t.APISecretHash != ""
				fmt.Printf("  %-20s %-16s %-8s keys=%v\n", t.Name, t.Exchange, state, hasKeys)
			}

		default:
			printUsage()
		}
	}
}
