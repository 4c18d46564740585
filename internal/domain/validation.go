package domain

import (
	"fmt"
	"math"
	"strings"
)

// Validate checks a caller input and returns the admitted request.
// Provider keys are trimmed, lowercased and deduplicated with their order kept.
func Validate(in GenerationInput, requestID string, maxProviders int) (*GenerationRequest, error) {
	if maxProviders <= 0 {
		maxProviders = MaxProviders
	}

	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, ErrInvalidPrompt
	}

	providers := NormalizeProviders(in.Providers)
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if len(providers) > maxProviders {
		return nil, fmt.Errorf("%w: %d requested, maximum is %d", ErrTooManyProviders, len(providers), maxProviders)
	}

	if math.IsNaN(in.Guidance) || in.Guidance < MinGuidance || in.Guidance > MaxGuidance {
		return nil, ErrInvalidGuidance
	}

	return &GenerationRequest{
		RequestID:      requestID,
		Prompt:         prompt,
		OriginalPrompt: prompt,
		Providers:      providers,
		Guidance:       in.Guidance,
		UserID:         strings.TrimSpace(in.UserID),
		Username:       in.Username,
		Priority:       in.Priority,
		Options:        in.Options,
	}, nil
}

// NormalizeProviders normalizes and deduplicates provider keys. Empty entries are dropped.
func NormalizeProviders(providers []string) []string {
	seen := make(map[string]struct{}, len(providers))
	normalized := make([]string, 0, len(providers))
	for _, p := range providers {
		key := NormalizeProviderKey(p)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, key)
	}
	return normalized
}
