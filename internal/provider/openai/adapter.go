// Package openai provides an image adapter for DALL-E using the official SDK.
// It implements domain.ImageProvider and maps SDK errors onto the shared error taxonomy.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/observability"
	"github.com/davidbz/kiln/internal/provider/payload"
)

const providerName = "openai"

// Provider implements domain.ImageProvider for OpenAI DALL-E.
type Provider struct {
	client openai.Client
	config Config
	name   string
}

// NewProvider creates a new OpenAI image provider.
// A missing API key is reported per call as MISSING_CREDENTIALS.
func NewProvider(config Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		// Retries belong to the orchestrator.
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{
			Transport: &payload.Transport{Limit: payload.EncodedLimit(config.imageLimit())},
		}),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}

	return &Provider{
		client: openai.NewClient(opts...),
		config: config,
		name:   providerName,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// RegisterModels adds the configured DALL-E model to the catalog under the "openai" and "dalle" keys.
func (p *Provider) RegisterModels(ctx context.Context, catalog *domain.InMemoryModelCatalog) error {
	for _, key := range []string{providerName, "dalle"} {
		if err := catalog.RegisterModel(ctx, domain.GeneratorConfig{
			Key:    key,
			Type:   providerName,
			Model:  p.config.Model,
			Size:   p.config.Size,
			Cost:   p.config.Cost,
			Active: true,
		}); err != nil {
			return fmt.Errorf("failed to register openai model %s: %w", key, err)
		}
	}
	return nil
}

// Generate requests one base64 image from the Images API.
func (p *Provider) Generate(ctx context.Context, call domain.ProviderCall) domain.ImageResult {
	started := time.Now()
	model := call.Model
	if model == "" {
		model = p.config.Model
	}
	meta := domain.ResultMeta{
		RequestID: call.RequestID,
		Provider:  p.name,
		Model:     model,
		Timestamp: started,
	}

	if p.config.APIKey == "" {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeMissingCredentials, "OpenAI API key is not configured"), meta)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling OpenAI images API")

	resp, err := p.client.Images.Generate(ctx, p.toSDKParams(call, model))
	meta.Duration = time.Since(started)
	if err != nil {
		perr := p.classify(ctx, err)
		logger.Warn("OpenAI images API call failed",
			observability.String("code", string(perr.Code)),
			observability.Int("status", perr.StatusCode),
		)
		return domain.Failed(perr, meta)
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeInvalidResponse, "response contained no image"), meta)
	}

	image := resp.Data[0].B64JSON
	if int64(base64.StdEncoding.DecodedLen(len(image))) > p.config.imageLimit() {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodePayloadTooLarge,
			fmt.Sprintf("image exceeds %d bytes", p.config.imageLimit())), meta)
	}
	if _, err := base64.StdEncoding.DecodeString(image); err != nil {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeInvalidResponse, "image is not valid base64").WithCause(err), meta)
	}

	logger.Debug("OpenAI images API call succeeded", observability.Duration("duration", meta.Duration))
	return domain.Succeeded(image, meta)
}

// toSDKParams converts a provider call to SDK ImageGenerateParams.
func (p *Provider) toSDKParams(call domain.ProviderCall, model string) openai.ImageGenerateParams {
	params := openai.ImageGenerateParams{
		Prompt:         call.Prompt,
		Model:          openai.ImageModel(model),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}

	size := call.Size
	if size == "" {
		size = p.config.Size
	}
	if size != "" {
		params.Size = openai.ImageGenerateParamsSize(size)
	}

	if call.Quality != "" {
		params.Quality = openai.ImageGenerateParamsQuality(call.Quality)
	}

	if call.UserID != "" {
		params.User = openai.String(call.UserID)
	}

	return params
}

// classify maps SDK and transport errors onto the shared taxonomy.
func (p *Provider) classify(ctx context.Context, err error) *domain.ProviderError {
	if errors.Is(err, payload.ErrTooLarge) {
		return domain.NewProviderError(p.name, domain.CodePayloadTooLarge, "response exceeded size limit").WithCause(err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := domain.ClassifyHTTPStatus(apiErr.StatusCode)
		if apiErr.StatusCode == http.StatusBadRequest &&
			(apiErr.Code == "content_policy_violation" || domain.IsContentPolicyMessage(apiErr.Message)) {
			code = domain.CodeContentPolicy
		}
		message := strings.TrimSpace(apiErr.Message)
		if message == "" {
			message = http.StatusText(apiErr.StatusCode)
		}
		return domain.NewProviderError(p.name, code, message).WithStatus(apiErr.StatusCode).WithCause(err)
	}

	return domain.ClassifyTransportError(ctx, p.name, err)
}
