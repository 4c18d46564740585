// Package dezgo provides an image adapter for the Dezgo text-to-image API.
package dezgo

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/observability"
	"github.com/davidbz/kiln/internal/provider/payload"
)

const (
	providerName = "dezgo"

	// errorBodyLimit caps how much of an error response is read.
	errorBodyLimit = 64 * 1024
)

// model is a Dezgo model and the endpoint serving it.
type model struct {
	key      string
	name     string
	endpoint string
	size     string
	cost     float64
}

//nolint:gochecknoglobals // model table
var models = []model{
	{key: "dezgo", name: "juggernautxl_1024px", endpoint: "/text2image_sdxl", size: "1024x1024", cost: 1},
	{key: "dezgo-lightning", name: "dreamshaperxl_lightning_1024px", endpoint: "/text2image_sdxl_lightning", size: "1024x1024", cost: 1},
	{key: "dezgo-flux", name: "flux_1_schnell", endpoint: "/text2image_flux", size: "1024x1024", cost: 1.5},
	{key: "dezgo-sd", name: "epic_realism", endpoint: "/text2image", size: "512x512", cost: 0.5},
}

// Provider implements domain.ImageProvider for Dezgo.
type Provider struct {
	config     Config
	httpClient *http.Client
	name       string
}

// NewProvider creates a new Dezgo provider.
// A missing API key is reported per call as MISSING_CREDENTIALS.
func NewProvider(config Config) *Provider {
	return &Provider{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		name: providerName,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// RegisterModels adds the Dezgo model table to the catalog.
// Config.Cost scales the table costs; 1 keeps them as listed.
func (p *Provider) RegisterModels(ctx context.Context, catalog *domain.InMemoryModelCatalog) error {
	scale := p.config.Cost
	if scale <= 0 {
		scale = 1
	}
	for _, m := range models {
		if err := catalog.RegisterModel(ctx, domain.GeneratorConfig{
			Key:    m.key,
			Type:   providerName,
			URL:    m.endpoint,
			Model:  m.name,
			Size:   m.size,
			Cost:   m.cost * scale,
			Active: true,
		}); err != nil {
			return fmt.Errorf("failed to register dezgo model %s: %w", m.key, err)
		}
	}
	return nil
}

func (p *Provider) imageLimit() int64 {
	if p.config.MaxImageBytes <= 0 {
		return domain.MaxImageBytes
	}
	return p.config.MaxImageBytes
}

// Generate posts the prompt as a form and reads the raw image from the response.
func (p *Provider) Generate(ctx context.Context, call domain.ProviderCall) domain.ImageResult {
	started := time.Now()
	meta := domain.ResultMeta{
		RequestID: call.RequestID,
		Provider:  p.name,
		Model:     call.Model,
		Timestamp: started,
	}

	if p.config.APIKey == "" {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeMissingCredentials, "Dezgo API key is not configured"), meta)
	}

	req, err := p.newRequest(ctx, call)
	if err != nil {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeInvalidParams, err.Error()).WithCause(err), meta)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling Dezgo API", observability.String("endpoint", req.URL.Path))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		meta.Duration = time.Since(started)
		return domain.Failed(domain.ClassifyTransportError(ctx, p.name, err), meta)
	}
	defer resp.Body.Close()

	limit := p.imageLimit()
	if payload.TooLarge(resp, limit) {
		meta.Duration = time.Since(started)
		return domain.Failed(domain.NewProviderError(p.name, domain.CodePayloadTooLarge,
			fmt.Sprintf("content length %d exceeds %d bytes", resp.ContentLength, limit)).WithStatus(resp.StatusCode), meta)
	}

	if resp.StatusCode != http.StatusOK {
		meta.Duration = time.Since(started)
		perr := p.classifyStatus(resp, limit)
		logger.Warn("Dezgo API call failed",
			observability.String("code", string(perr.Code)),
			observability.Int("status", resp.StatusCode),
		)
		return domain.Failed(perr, meta)
	}

	data, err := payload.ReadAll(resp.Body, limit)
	meta.Duration = time.Since(started)
	if err != nil {
		if errors.Is(err, payload.ErrTooLarge) {
			return domain.Failed(domain.NewProviderError(p.name, domain.CodePayloadTooLarge, err.Error()).WithCause(err), meta)
		}
		return domain.Failed(domain.ClassifyTransportError(ctx, p.name, err), meta)
	}

	if len(data) == 0 || strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeInvalidResponse, "response did not contain an image"), meta)
	}

	return domain.Succeeded(base64.StdEncoding.EncodeToString(data), meta)
}

func (p *Provider) newRequest(ctx context.Context, call domain.ProviderCall) (*http.Request, error) {
	endpoint := call.URL
	if endpoint == "" {
		endpoint = models[0].endpoint
	}
	target, err := url.JoinPath(p.config.BaseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	form := url.Values{}
	form.Set("prompt", call.Prompt)
	form.Set("guidance", strconv.FormatFloat(guidanceFor(call.Model, call.Guidance), 'f', -1, 64))
	if call.Model != "" {
		form.Set("model", call.Model)
	}
	if width, height, ok := parseSize(call.Size); ok {
		form.Set("width", strconv.Itoa(width))
		form.Set("height", strconv.Itoa(height))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Dezgo-Key", p.config.APIKey)

	return req, nil
}

// classifyStatus maps a non-200 response. The body is drained under limit so an
// oversized error body is rejected like an oversized image.
func (p *Provider) classifyStatus(resp *http.Response, limit int64) *domain.ProviderError {
	body, err := payload.ReadHead(resp.Body, limit, errorBodyLimit)
	if errors.Is(err, payload.ErrTooLarge) {
		return domain.NewProviderError(p.name, domain.CodePayloadTooLarge, err.Error()).
			WithStatus(resp.StatusCode).
			WithCause(err)
	}
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	code := domain.ClassifyHTTPStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusBadRequest && domain.IsContentPolicyMessage(message) {
		code = domain.CodeContentPolicy
	}

	return domain.NewProviderError(p.name, code, message).WithStatus(resp.StatusCode)
}

// parseSize splits "WIDTHxHEIGHT".
func parseSize(size string) (int, int, bool) {
	w, h, found := strings.Cut(strings.ToLower(size), "x")
	if !found {
		return 0, 0, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}
