package position

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SessionSizingEnabled scales new trade amounts by the current NY
	// trading session instead of taking the balance percentage as is.
	SessionSizingEnabled bool `envconfig:"SESSION_SIZING_ENABLED" default:"false"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
