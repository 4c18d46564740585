package domain

import "time"

const (
	// MaxProviders bounds the provider list of a single request.
	MaxProviders = 10

	// MinGuidance and MaxGuidance bound the caller-supplied guidance value.
	MinGuidance = 0.0
	MaxGuidance = 20.0

	// MaxImageBytes caps the decoded size of a provider response.
	MaxImageBytes = 20 * 1024 * 1024

	// DefaultProviderCost is charged for a provider with no active catalog model.
	DefaultProviderCost = 1.0
)

// Options are the per-request generation flags.
type Options struct {
	// AutoPublic marks the stored image as publicly listed.
	AutoPublic bool `json:"autoPublic,omitempty"`

	// AutoEnhance runs the prompt through the AI enhancer.
	AutoEnhance bool `json:"autoEnhance,omitempty"`

	// Multiplier is a comma separated list of modifiers appended to the prompt.
	Multiplier string `json:"multiplier,omitempty"`

	// Mixup shuffles the comma separated segments of the prompt.
	Mixup bool `json:"mixup,omitempty"`

	// Mashup merges the prompt with a recent prompt from the store.
	Mashup bool `json:"mashup,omitempty"`

	// Size is the requested image size, e.g. "1024x1024". Empty uses the model default.
	Size string `json:"size,omitempty"`

	// Quality is passed to providers that support it ("standard", "hd").
	Quality string `json:"quality,omitempty"`
}

// GenerationInput is what a caller hands to GenerationService.GenerateImage.
type GenerationInput struct {
	Prompt    string   `json:"prompt"`
	Providers []string `json:"providers"`
	Guidance  float64  `json:"guidance"`
	UserID    string   `json:"userId,omitempty"`
	Username  string   `json:"username,omitempty"`
	Priority  int      `json:"priority,omitempty"`
	Options   Options  `json:"options"`
}

// GenerationRequest is the validated, immutable request admitted to the queue.
type GenerationRequest struct {
	RequestID      string
	Prompt         string
	OriginalPrompt string
	Providers      []string
	Guidance       float64
	UserID         string
	Username       string
	Priority       int
	Options        Options
}

// ResultMeta describes a single provider attempt.
type ResultMeta struct {
	RequestID  string        `json:"requestId"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Duration   time.Duration `json:"durationMs"`
	Timestamp  time.Time     `json:"timestamp"`
	StatusCode int           `json:"statusCode,omitempty"`
}

// ImageResult is the outcome of ImageProvider.Generate. Exactly one of Image or Failure is set.
type ImageResult struct {
	OK          bool           `json:"ok"`
	ImageBase64 string         `json:"imageBase64,omitempty"`
	Failure     *ProviderError `json:"-"`
	Meta        ResultMeta     `json:"meta"`
}

// Succeeded builds a success result.
func Succeeded(imageBase64 string, meta ResultMeta) ImageResult {
	return ImageResult{OK: true, ImageBase64: imageBase64, Meta: meta}
}

// Failed builds a failure result.
func Failed(err *ProviderError, meta ResultMeta) ImageResult {
	if err != nil && err.StatusCode > 0 {
		meta.StatusCode = err.StatusCode
	}
	return ImageResult{OK: false, Failure: err, Meta: meta}
}

// Err returns the failure as an error, or nil on success.
func (r ImageResult) Err() error {
	if r.OK {
		return nil
	}
	if r.Failure == nil {
		return NewProviderError(r.Meta.Provider, CodeUnknown, "provider returned no image")
	}
	return r.Failure
}

// ProviderCall carries the provider-specific parameters of one attempt.
type ProviderCall struct {
	RequestID string
	Prompt    string
	Guidance  float64
	Model     string
	URL       string
	UserID    string
	Size      string
	Quality   string
}

// GeneratorConfig is the catalog record for a provider key.
type GeneratorConfig struct {
	Key    string  `json:"key"`
	Type   string  `json:"type"`
	URL    string  `json:"url,omitempty"`
	Model  string  `json:"model"`
	Size   string  `json:"size,omitempty"`
	Cost   float64 `json:"cost"`
	Active bool    `json:"active"`
}

// StoredImage is what the persistence store returns after saving a result.
type StoredImage struct {
	ID        string
	ImageURL  string
	CreatedAt time.Time
}

// ImageRecord is the data handed to the persistence store.
type ImageRecord struct {
	RequestID      string
	UserID         string
	Prompt         string
	OriginalPrompt string
	Provider       string
	Model          string
	Guidance       float64
	Public         bool
	ImageBase64    string
}

// Generation is the success shape returned to callers.
type Generation struct {
	Success            bool      `json:"success"`
	ID                 string    `json:"id"`
	RequestID          string    `json:"requestId"`
	ImageURL           string    `json:"imageUrl"`
	Prompt             string    `json:"prompt"`
	Original           string    `json:"original"`
	Provider           string    `json:"provider"`
	Guidance           float64   `json:"guidance"`
	UserID             string    `json:"userId,omitempty"`
	Username           string    `json:"username,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	ProviderUsed       string    `json:"providerUsed"`
	ProvidersAttempted []string  `json:"providersAttempted"`
	ProviderIndex      int       `json:"providerIndex"`
}

// FailureResult is the failure shape returned to callers.
type FailureResult struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RequestID  string `json:"requestId,omitempty"`
	StatusCode int    `json:"statusCode"`
}
