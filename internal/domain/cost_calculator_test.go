package domain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/domain"
)

func newTestCatalog(t *testing.T) *domain.InMemoryModelCatalog {
	t.Helper()

	ctx := context.Background()
	catalog := domain.NewInMemoryModelCatalog()

	for _, cfg := range []domain.GeneratorConfig{
		{Key: "dalle3", Type: "openai", Model: "dall-e-3", Cost: 4, Active: true},
		{Key: "flux", Type: "dezgo", Model: "flux_1_schnell", Cost: 2, Active: true},
		{Key: "flux", Type: "dezgo", Model: "flux_1_dev", Cost: 3, Active: true},
		{Key: "retired", Type: "dezgo", Model: "sd15", Cost: 0.5, Active: false},
	} {
		require.NoError(t, catalog.RegisterModel(ctx, cfg))
	}

	return catalog
}

func TestCostCalculator_Calculate(t *testing.T) {
	ctx := context.Background()
	calculator := domain.NewCostCalculator(newTestCatalog(t), 1.0)

	tests := []struct {
		name         string
		providers    []string
		fanOut       bool
		expectedCost float64
		expectError  bool
	}{
		{
			name:         "fan-out sums the minimum active cost per provider",
			providers:    []string{"dalle3", "flux"},
			fanOut:       true,
			expectedCost: 6,
		},
		{
			name:         "fallback reserves the most expensive provider",
			providers:    []string{"flux", "dalle3"},
			fanOut:       false,
			expectedCost: 4,
		},
		{
			name:         "unknown provider uses the default cost",
			providers:    []string{"mystery", "mystery2"},
			fanOut:       true,
			expectedCost: 2,
		},
		{
			name:         "inactive models fall back to the default cost",
			providers:    []string{"retired"},
			fanOut:       false,
			expectedCost: 1,
		},
		{
			name:        "empty list returns error",
			providers:   nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, err := calculator.Calculate(ctx, tt.providers, tt.fanOut)

			if tt.expectError {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.InDelta(t, tt.expectedCost, cost, 0.0001)
		})
	}
}

func TestCostCalculator_NilCatalog(t *testing.T) {
	calculator := domain.NewCostCalculator(nil, 0)

	cost, err := calculator.Calculate(context.Background(), []string{"a", "b"}, true)

	require.NoError(t, err)
	require.InDelta(t, 2.0, cost, 0.0001)
}
