package routing_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/routing"
)

// mockRegistry is a mock implementation of ProviderRegistry for testing.
type mockRegistry struct {
	providers map[string]domain.ImageProvider
}

func newMockRegistry(names ...string) *mockRegistry {
	m := &mockRegistry{providers: make(map[string]domain.ImageProvider)}
	for _, name := range names {
		m.providers[name] = &mockProvider{name: name}
	}
	return m
}

func (m *mockRegistry) Register(_ context.Context, provider domain.ImageProvider) error {
	m.providers[provider.Name()] = provider
	return nil
}

func (m *mockRegistry) Get(_ context.Context, providerType string) (domain.ImageProvider, error) {
	provider, exists := m.providers[providerType]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", providerType)
	}
	return provider, nil
}

func (m *mockRegistry) List(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names, nil
}

// mockProvider is a mock implementation of ImageProvider for testing.
type mockProvider struct {
	name string
}

func (m *mockProvider) Generate(_ context.Context, _ domain.ProviderCall) domain.ImageResult {
	return domain.ImageResult{}
}

func (m *mockProvider) Name() string {
	return m.name
}

func newCatalog(t *testing.T) *domain.InMemoryModelCatalog {
	t.Helper()
	ctx := context.Background()
	catalog := domain.NewInMemoryModelCatalog()
	for _, cfg := range []domain.GeneratorConfig{
		{Key: "dezgo", Type: "dezgo", Model: "m", Cost: 1, Active: true},
		{Key: "dezgo-flux", Type: "dezgo", Model: "flux", Cost: 1, Active: true},
		{Key: "google", Type: "google", Model: "imagen", Cost: 2, Active: true},
		{Key: "openai", Type: "openai", Model: "dall-e-3", Cost: 2, Active: true},
		{Key: "retired", Type: "openai", Model: "dall-e-2", Cost: 1, Active: false},
	} {
		require.NoError(t, catalog.RegisterModel(ctx, cfg))
	}
	return catalog
}

func TestSimpleRouter_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("should pass through lists without aliases", func(t *testing.T) {
		router := routing.NewRouter(newMockRegistry(), newCatalog(t))
		got, err := router.Resolve(ctx, []string{"openai", "dezgo"})
		require.NoError(t, err)
		require.Equal(t, []string{"openai", "dezgo"}, got)
	})

	t.Run("should replace random with an unused available key", func(t *testing.T) {
		// google is unregistered, openai is already requested, retired is inactive.
		router := routing.NewRouter(newMockRegistry("dezgo", "openai"), newCatalog(t)).
			WithRandom(func(n int) int { return n - 1 })

		got, err := router.Resolve(ctx, []string{"openai", "random"})
		require.NoError(t, err)
		require.Equal(t, []string{"openai", "dezgo-flux"}, got)
	})

	t.Run("should pick distinct keys for repeated random", func(t *testing.T) {
		router := routing.NewRouter(newMockRegistry("dezgo"), newCatalog(t)).
			WithRandom(func(int) int { return 0 })

		got, err := router.Resolve(ctx, []string{"random", "random"})
		require.NoError(t, err)
		require.Equal(t, []string{"dezgo", "dezgo-flux"}, got)
	})

	t.Run("should fail when no candidate remains", func(t *testing.T) {
		router := routing.NewRouter(newMockRegistry("google"), newCatalog(t))

		_, err := router.Resolve(ctx, []string{"google", "random"})
		require.ErrorIs(t, err, routing.ErrNoCandidates)
	})

	t.Run("should reject empty list", func(t *testing.T) {
		router := routing.NewRouter(newMockRegistry(), newCatalog(t))

		_, err := router.Resolve(ctx, nil)
		require.ErrorIs(t, err, domain.ErrNoProviders)
	})
}

func TestSimpleRouter_Available(t *testing.T) {
	router := routing.NewRouter(newMockRegistry("openai", "google"), newCatalog(t))
	require.Equal(t, []string{"google", "openai"}, router.Available(context.Background()))
}
