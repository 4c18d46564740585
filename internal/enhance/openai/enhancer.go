// Package openai rewrites image prompts with an OpenAI chat model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/kiln/internal/observability"
)

const systemPrompt = "You rewrite prompts for an image generation model. " +
	"Keep the subject and intent, add concrete visual detail about composition, lighting and style. " +
	"Answer with the rewritten prompt only, on one line, without quotes."

// Enhancer implements domain.PromptEnhancer.
type Enhancer struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewEnhancer creates a new OpenAI prompt enhancer.
func NewEnhancer(config Config) (*Enhancer, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	if config.Model == "" {
		config.Model = string(openai.ChatModelGPT4oMini)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Enhancer{
		client:      openai.NewClient(opts...),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
	}, nil
}

// Enhance returns a more detailed version of prompt.
func (e *Enhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt cannot be empty")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	}
	if e.temperature > 0 {
		params.Temperature = openai.Float(e.temperature)
	}
	if e.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(e.maxTokens))
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("prompt enhancement failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}

	enhanced := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if enhanced == "" {
		return "", errors.New("empty completion returned")
	}

	observability.FromContext(ctx).Debug("prompt enhanced",
		observability.Int("original_length", len(prompt)),
		observability.Int("enhanced_length", len(enhanced)),
	)

	return enhanced, nil
}
