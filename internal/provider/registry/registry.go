package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/davidbz/kiln/internal/domain"
)

// modelRegistrar is implemented by adapters that publish their models to the catalog.
type modelRegistrar interface {
	RegisterModels(ctx context.Context, catalog *domain.InMemoryModelCatalog) error
}

// Registry implements the ProviderRegistry interface.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.ImageProvider
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:        sync.RWMutex{},
		providers: make(map[string]domain.ImageProvider),
	}
}

// Register adds a provider to the registry under its adapter type.
func (r *Registry) Register(_ context.Context, provider domain.ImageProvider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.providers[name] = provider

	return nil
}

// Get retrieves a provider by adapter type.
func (r *Registry) Get(_ context.Context, providerType string) (domain.ImageProvider, error) {
	if providerType == "" {
		return nil, errors.New("provider name cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[providerType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, providerType)
	}

	return provider, nil
}

// List returns all registered adapter types, sorted.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// Bootstrap registers every provider and publishes the models of those that carry a model table.
func (r *Registry) Bootstrap(
	ctx context.Context,
	catalog *domain.InMemoryModelCatalog,
	providers ...domain.ImageProvider,
) error {
	for _, provider := range providers {
		if err := r.Register(ctx, provider); err != nil {
			return err
		}

		registrar, ok := provider.(modelRegistrar)
		if !ok || catalog == nil {
			continue
		}
		if err := registrar.RegisterModels(ctx, catalog); err != nil {
			return fmt.Errorf("failed to register models for %s: %w", provider.Name(), err)
		}
	}
	return nil
}
