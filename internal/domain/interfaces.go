package domain

import "context"

// ImageProvider is implemented by every image generation adapter.
type ImageProvider interface {
	// Generate produces one image. Failures are returned inside the result, never as a panic.
	Generate(ctx context.Context, call ProviderCall) ImageResult

	// Name returns the adapter type ("openai", "dezgo", "google", "echo").
	Name() string
}

// ProviderRegistry manages adapters keyed by adapter type.
type ProviderRegistry interface {
	// Register adds a provider to the registry.
	Register(ctx context.Context, provider ImageProvider) error

	// Get retrieves a provider by adapter type.
	Get(ctx context.Context, providerType string) (ImageProvider, error)

	// List returns all registered adapter types.
	List(ctx context.Context) ([]string, error)
}

// ModelCatalog resolves provider keys to generator configs and costs.
type ModelCatalog interface {
	// GetGeneratorConfig returns the active config for a provider key.
	GetGeneratorConfig(ctx context.Context, providerKey string) (*GeneratorConfig, error)

	// IsModelValid reports whether a provider key has an active model.
	IsModelValid(ctx context.Context, providerKey string) bool

	// MinActiveCost returns the cheapest active model cost for a provider key.
	MinActiveCost(ctx context.Context, providerKey string) (float64, bool)

	// ActiveKeys lists provider keys with at least one active model.
	ActiveKeys(ctx context.Context) []string
}

// CreditLedger is the external credit store.
type CreditLedger interface {
	HasCredits(ctx context.Context, userID string, amount float64) (bool, error)
	DebitCredits(ctx context.Context, userID string, amount float64, memo string, meta map[string]string) (bool, error)
	AddCredits(ctx context.Context, userID string, amount float64, reason, memo string, meta map[string]string) (bool, error)
	GetBalance(ctx context.Context, userID string) (float64, error)
}

// ResultStore persists generated images.
type ResultStore interface {
	SaveResult(ctx context.Context, record ImageRecord) (*StoredImage, error)
}

// ResultDeleter is implemented by stores that can remove a saved image.
type ResultDeleter interface {
	DeleteResult(ctx context.Context, imageID string) error
}

// Tagger attaches tags to a stored image. Called as a detached task.
type Tagger interface {
	TagImage(ctx context.Context, imageID, prompt string) error
}

// PromptSource supplies prompts for the mashup stage.
type PromptSource interface {
	RecentPrompts(ctx context.Context, limit int) ([]string, error)
}

// PromptEnhancer rewrites a prompt with an AI model.
type PromptEnhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// GenerationMetrics receives orchestration outcomes. *observability.Metrics implements it.
type GenerationMetrics interface {
	ProviderAttempt(provider, outcome string)
	GenerationCompleted(status int)
	Refund(outcome string)
}

// ProviderResolver expands provider aliases (such as "random") into concrete provider keys.
type ProviderResolver interface {
	Resolve(ctx context.Context, providers []string) ([]string, error)
}
