package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

const (
	StrategyFixed      = "fixed"
	StrategyRoundRobin = "round-robin"
	StrategyLeastWeight = "least-weight"
)

// weightStore is the slice of WeightRepository the balancer needs.
type weightStore interface {
	EndpointWeight(ctx context.Context, exchange, path string) (int64, error)
	RefineEndpointWeight(ctx context.Context, exchange, path string, weight int64) error
	AddressWeight(ctx context.Context, exchange, address string, now time.Time) (int64, error)
	AddWeight(ctx context.Context, exchange, address string, delta int64, now time.Time) (int64, error)
}

// Balancer selects the egress address for each outbound call and keeps
// the per-address minute counters honest. The round-robin cursor is
// process-local; the weight counters live in the shared store so
// separate poller processes see each other's consumption.
type Balancer struct {
	exchange  string
	strategy  string
	addresses []string
	ceiling   int64
	penalty   int64

	weights weightStore
	now     func() time.Time

	mu     sync.Mutex
	cursor int
}

func NewBalancer(cfg Config, weights weightStore) (*Balancer, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("gateway needs at least one egress address")
	}

	switch cfg.BalanceStrategy {
	case StrategyFixed, StrategyRoundRobin, StrategyLeastWeight:
	default:
		return nil, fmt.Errorf("unknown balance strategy %q", cfg.BalanceStrategy)
	}

	return &Balancer{
		exchange:  cfg.Exchange,
		strategy:  cfg.BalanceStrategy,
		addresses: cfg.Addresses,
		ceiling:   cfg.WeightCeiling,
		penalty:   cfg.PenaltyWeight,
		weights:   weights,
		now:       time.Now,
	}, nil
}

// WithNow overrides the clock. Tests only.
func (b *Balancer) WithNow(now func() time.Time) *Balancer {
	b.now = now
	return b
}

// Addresses returns the configured egress addresses.
func (b *Balancer) Addresses() []string {
	return b.addresses
}

// Pick returns the egress address for the next call per the configured
// strategy. Under least-weight, an empty budget on every address is a
// typed rate-limit error.
func (b *Balancer) Pick(ctx context.Context, path string) (string, error) {
	switch b.strategy {
	case StrategyFixed:
		return b.addresses[0], nil

	case StrategyRoundRobin:
		b.mu.Lock()
		addr := b.addresses[b.cursor%len(b.addresses)]
		b.cursor++
		b.mu.Unlock()
		return addr, nil

	case StrategyLeastWeight:
		now := b.now()
		best := ""
		bestWeight := int64(-1)

		for _, addr := range b.addresses {
			weight, err := b.weights.AddressWeight(ctx, b.exchange, addr, now)
			if err != nil {
				return "", err
			}
			if weight >= b.ceiling {
				continue
			}
			if bestWeight < 0 || weight < bestWeight {
				best = addr
				bestWeight = weight
			}
		}

		if best == "" {
			logger.WithFields(map[string]interface{}{
				"exchange": b.exchange,
				"path":     path,
				"ceiling":  b.ceiling,
			}).Warn("All egress addresses over weight ceiling")

			return "", &RateLimitError{Exchange: b.exchange, Path: path}
		}

		return best, nil
	}

	return "", fmt.Errorf("unknown balance strategy %q", b.strategy)
}

// Penalize backs the offending address off after a 429 and advances
// the round-robin cursor so the next pick lands elsewhere.
func (b *Balancer) Penalize(ctx context.Context, address string) {
	if _, err := b.weights.AddWeight(ctx, b.exchange, address, b.penalty, b.now()); err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"exchange": b.exchange,
			"address":  address,
		}).Error("Failed to record penalty weight")
	}

	b.mu.Lock()
	b.cursor++
	b.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"exchange": b.exchange,
		"address":  address,
		"penalty":  b.penalty,
	}).Warn("Address penalized after rate limit response")
}

// Settle folds the call's actual weight into the address counter and
// refines the learned per-path cost for the next caller.
func (b *Balancer) Settle(ctx context.Context, address, path string, usedWeight int64) {
	if usedWeight <= 0 {
		usedWeight = 1
	}

	if _, err := b.weights.AddWeight(ctx, b.exchange, address, usedWeight, b.now()); err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"exchange": b.exchange,
			"address":  address,
		}).Error("Failed to settle address weight")
	}

	if err := b.weights.RefineEndpointWeight(ctx, b.exchange, path, usedWeight); err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"exchange": b.exchange,
			"path":     path,
		}).Error("Failed to refine endpoint weight")
	}
}

// CallCost returns the learned cost of the path, creating the default
// of 1 on first sight.
func (b *Balancer) CallCost(ctx context.Context, path string) int64 {
	weight, err := b.weights.EndpointWeight(ctx, b.exchange, path)
	if err != nil || weight <= 0 {
		return 1
	}
	return weight
}
