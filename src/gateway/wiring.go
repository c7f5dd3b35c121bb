package gateway

import (
	"gorm.io/gorm"

	"ladderexecutor/src/repository"
)

// NewCallerFromEnv assembles the production call path: env-configured
// gateway, shared weight counters and request audit log on the given
// database, and the signed REST caller on top.
func NewCallerFromEnv(db *gorm.DB, apiKey, apiSecret string) (*FuturesCaller, error) {
	cfg := GetConfig()

	balancer, err := NewBalancer(cfg, repository.NewWeightRepository().WithDB(db))
	if err != nil {
		return nil, err
	}

	client := NewClient(cfg, apiKey, apiSecret, balancer, repository.NewRequestLogRepository().WithDB(db))
	return NewFuturesCaller(client), nil
}
