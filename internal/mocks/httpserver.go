package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/store"
)

// Generator is a mock of httpserver.Generator.
type Generator struct {
	mock.Mock
}

func (m *Generator) GenerateImage(ctx context.Context, in domain.GenerationInput) (*domain.Generation, error) {
	args := m.Called(ctx, in)
	generation, _ := args.Get(0).(*domain.Generation)
	return generation, args.Error(1)
}

// ProviderLister is a mock of httpserver.ProviderLister.
type ProviderLister struct {
	mock.Mock
}

func (m *ProviderLister) Available(ctx context.Context) []string {
	args := m.Called(ctx)
	providers, _ := args.Get(0).([]string)
	return providers
}

// ImageLoader is a mock of httpserver.ImageLoader.
type ImageLoader struct {
	mock.Mock
}

func (m *ImageLoader) GetImage(ctx context.Context, id string) (*store.Image, error) {
	args := m.Called(ctx, id)
	image, _ := args.Get(0).(*store.Image)
	return image, args.Error(1)
}
