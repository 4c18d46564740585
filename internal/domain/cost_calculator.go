package domain

import (
	"context"
	"errors"
)

// CostCalculator computes the credits reserved for a request before any provider is attempted.
type CostCalculator struct {
	catalog     ModelCatalog
	defaultCost float64
}

// NewCostCalculator creates a new cost calculator.
func NewCostCalculator(catalog ModelCatalog, defaultCost float64) *CostCalculator {
	if defaultCost <= 0 {
		defaultCost = DefaultProviderCost
	}
	return &CostCalculator{
		catalog:     catalog,
		defaultCost: defaultCost,
	}
}

// ProviderCost returns the minimum active model cost for a provider key,
// or the default cost when the catalog has no record.
func (c *CostCalculator) ProviderCost(ctx context.Context, providerKey string) float64 {
	if c.catalog == nil {
		return c.defaultCost
	}
	cost, ok := c.catalog.MinActiveCost(ctx, providerKey)
	if !ok {
		return c.defaultCost
	}
	return cost
}

// Calculate returns the reservation amount for a provider list.
// Fan-out produces one image per provider and is charged the sum of provider costs.
// Fallback produces a single image and is charged the most expensive provider it may end up using.
func (c *CostCalculator) Calculate(ctx context.Context, providers []string, fanOut bool) (float64, error) {
	if len(providers) == 0 {
		return 0, errors.New("providers cannot be empty")
	}

	total := 0.0
	highest := 0.0
	for _, key := range providers {
		cost := c.ProviderCost(ctx, key)
		total += cost
		if cost > highest {
			highest = cost
		}
	}

	if fanOut {
		return total, nil
	}
	return highest, nil
}
