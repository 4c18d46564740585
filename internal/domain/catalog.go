package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InMemoryModelCatalog stores generator configs in memory.
// A provider key may carry several model records; the first active one is used for generation.
type InMemoryModelCatalog struct {
	mu     sync.RWMutex
	models map[string][]GeneratorConfig
}

// NewInMemoryModelCatalog creates a new in-memory model catalog.
func NewInMemoryModelCatalog() *InMemoryModelCatalog {
	return &InMemoryModelCatalog{
		mu:     sync.RWMutex{},
		models: make(map[string][]GeneratorConfig),
	}
}

// RegisterModel adds a model record under its provider key.
func (c *InMemoryModelCatalog) RegisterModel(_ context.Context, config GeneratorConfig) error {
	key := NormalizeProviderKey(config.Key)
	if key == "" {
		return errors.New("provider key cannot be empty")
	}
	if config.Type == "" {
		return fmt.Errorf("provider type cannot be empty for %s", key)
	}
	if config.Cost < 0 {
		return fmt.Errorf("cost cannot be negative for %s", key)
	}
	config.Key = key

	c.mu.Lock()
	defer c.mu.Unlock()

	c.models[key] = append(c.models[key], config)
	return nil
}

// GetGeneratorConfig returns the first active model registered for the key.
func (c *InMemoryModelCatalog) GetGeneratorConfig(_ context.Context, providerKey string) (*GeneratorConfig, error) {
	key := NormalizeProviderKey(providerKey)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, cfg := range c.models[key] {
		if cfg.Active {
			found := cfg
			return &found, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrModelNotFound, key)
}

// IsModelValid reports whether the key has an active model.
func (c *InMemoryModelCatalog) IsModelValid(ctx context.Context, providerKey string) bool {
	_, err := c.GetGeneratorConfig(ctx, providerKey)
	return err == nil
}

// MinActiveCost returns the cheapest active model cost for the key.
func (c *InMemoryModelCatalog) MinActiveCost(_ context.Context, providerKey string) (float64, bool) {
	key := NormalizeProviderKey(providerKey)

	c.mu.RLock()
	defer c.mu.RUnlock()

	found := false
	minCost := 0.0
	for _, cfg := range c.models[key] {
		if !cfg.Active {
			continue
		}
		if !found || cfg.Cost < minCost {
			minCost = cfg.Cost
			found = true
		}
	}

	return minCost, found
}

// ActiveKeys lists provider keys with an active model, sorted.
func (c *InMemoryModelCatalog) ActiveKeys(_ context.Context) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.models))
	for key, cfgs := range c.models {
		for _, cfg := range cfgs {
			if cfg.Active {
				keys = append(keys, key)
				break
			}
		}
	}
	sort.Strings(keys)

	return keys
}

// NormalizeProviderKey trims and lowercases a provider key.
func NormalizeProviderKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
