package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davidbz/kiln/internal/domain"
)

// ImageProvider is a mock of domain.ImageProvider.
type ImageProvider struct {
	mock.Mock
	ProviderName string
}

func (m *ImageProvider) Generate(ctx context.Context, call domain.ProviderCall) domain.ImageResult {
	args := m.Called(ctx, call)
	return args.Get(0).(domain.ImageResult)
}

func (m *ImageProvider) Name() string {
	return m.ProviderName
}

// ProviderRegistry is a mock of domain.ProviderRegistry.
type ProviderRegistry struct {
	mock.Mock
}

func (m *ProviderRegistry) Register(ctx context.Context, provider domain.ImageProvider) error {
	args := m.Called(ctx, provider)
	return args.Error(0)
}

func (m *ProviderRegistry) Get(ctx context.Context, providerType string) (domain.ImageProvider, error) {
	args := m.Called(ctx, providerType)
	provider, _ := args.Get(0).(domain.ImageProvider)
	return provider, args.Error(1)
}

func (m *ProviderRegistry) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}
