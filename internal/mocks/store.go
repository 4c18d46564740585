package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davidbz/kiln/internal/domain"
)

// ResultStore is a mock of domain.ResultStore.
type ResultStore struct {
	mock.Mock
}

func (m *ResultStore) SaveResult(ctx context.Context, record domain.ImageRecord) (*domain.StoredImage, error) {
	args := m.Called(ctx, record)
	stored, _ := args.Get(0).(*domain.StoredImage)
	return stored, args.Error(1)
}

func (m *ResultStore) DeleteResult(ctx context.Context, imageID string) error {
	args := m.Called(ctx, imageID)
	return args.Error(0)
}

// Tagger is a mock of domain.Tagger.
type Tagger struct {
	mock.Mock
}

func (m *Tagger) TagImage(ctx context.Context, imageID, prompt string) error {
	args := m.Called(ctx, imageID, prompt)
	return args.Error(0)
}

// PromptSource is a mock of domain.PromptSource.
type PromptSource struct {
	mock.Mock
}

func (m *PromptSource) RecentPrompts(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	prompts, _ := args.Get(0).([]string)
	return prompts, args.Error(1)
}

// PromptEnhancer is a mock of domain.PromptEnhancer.
type PromptEnhancer struct {
	mock.Mock
}

func (m *PromptEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// EventPublisher is a mock of domain.EventPublisher.
type EventPublisher struct {
	mock.Mock
}

func (m *EventPublisher) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	m.Called(ctx, eventType, data)
}
