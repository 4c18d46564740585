// Package google provides an image adapter for Google Imagen through the Generative Language API.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
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
	providerName   = "google"
	errorBodyLimit = 64 * 1024
)

// Imagen API request/response structures.
type predictRequest struct {
	Instances  []instance `json:"instances"`
	Parameters parameters `json:"parameters"`
}

type instance struct {
	Prompt string `json:"prompt"`
}

type parameters struct {
	SampleCount   int     `json:"sampleCount"`
	AspectRatio   string  `json:"aspectRatio,omitempty"`
	GuidanceScale float64 `json:"guidanceScale,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
		RAIFilteredReason  string `json:"raiFilteredReason"`
	} `json:"predictions"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Provider implements domain.ImageProvider for Google Imagen.
type Provider struct {
	config     Config
	httpClient *http.Client
	name       string
}

// NewProvider creates a new Google Imagen provider.
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

// RegisterModels adds the configured Imagen model under the "google" and "imagen" keys.
func (p *Provider) RegisterModels(ctx context.Context, catalog *domain.InMemoryModelCatalog) error {
	for _, key := range []string{providerName, "imagen"} {
		if err := catalog.RegisterModel(ctx, domain.GeneratorConfig{
			Key:    key,
			Type:   providerName,
			Model:  p.config.Model,
			Size:   "1024x1024",
			Cost:   p.config.Cost,
			Active: true,
		}); err != nil {
			return fmt.Errorf("failed to register google model %s: %w", key, err)
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

// Generate calls the model's :predict method and returns the first prediction.
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
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeMissingCredentials, "Google API key is not configured"), meta)
	}

	req, err := p.newRequest(ctx, call, model)
	if err != nil {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeInvalidParams, err.Error()).WithCause(err), meta)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling Imagen API")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		meta.Duration = time.Since(started)
		return domain.Failed(domain.ClassifyTransportError(ctx, p.name, err), meta)
	}
	defer resp.Body.Close()

	limit := payload.EncodedLimit(p.imageLimit())
	if payload.TooLarge(resp, limit) {
		meta.Duration = time.Since(started)
		return domain.Failed(domain.NewProviderError(p.name, domain.CodePayloadTooLarge,
			fmt.Sprintf("content length %d exceeds %d bytes", resp.ContentLength, limit)).WithStatus(resp.StatusCode), meta)
	}

	if resp.StatusCode != http.StatusOK {
		meta.Duration = time.Since(started)
		perr := p.classifyStatus(resp, limit)
		logger.Warn("Imagen API call failed",
			observability.String("code", string(perr.Code)),
			observability.Int("status", resp.StatusCode),
		)
		return domain.Failed(perr, meta)
	}

	body, err := payload.ReadAll(resp.Body, limit)
	meta.Duration = time.Since(started)
	if err != nil {
		if errors.Is(err, payload.ErrTooLarge) {
			return domain.Failed(domain.NewProviderError(p.name, domain.CodePayloadTooLarge, err.Error()).WithCause(err), meta)
		}
		return domain.Failed(domain.ClassifyTransportError(ctx, p.name, err), meta)
	}

	return p.parse(body, meta)
}

func (p *Provider) newRequest(ctx context.Context, call domain.ProviderCall, model string) (*http.Request, error) {
	target, err := url.JoinPath(p.config.BaseURL, "models", model+":predict")
	if err != nil {
		return nil, fmt.Errorf("invalid model %q: %w", model, err)
	}

	body, err := json.Marshal(predictRequest{
		Instances: []instance{{Prompt: call.Prompt}},
		Parameters: parameters{
			SampleCount:   1,
			AspectRatio:   aspectRatio(call.Size),
			GuidanceScale: call.Guidance,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.config.APIKey)

	return req, nil
}

func (p *Provider) parse(body []byte, meta domain.ResultMeta) domain.ImageResult {
	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeInvalidResponse, "malformed response").WithCause(err), meta)
	}

	if len(resp.Predictions) == 0 {
		// Imagen drops filtered predictions instead of returning an error.
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeContentPolicy, "all images were filtered"), meta)
	}

	prediction := resp.Predictions[0]
	if prediction.RAIFilteredReason != "" {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeContentPolicy, prediction.RAIFilteredReason), meta)
	}
	if prediction.BytesBase64Encoded == "" {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeInvalidResponse, "prediction contained no image"), meta)
	}

	if int64(base64.StdEncoding.DecodedLen(len(prediction.BytesBase64Encoded))) > p.imageLimit() {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodePayloadTooLarge,
			fmt.Sprintf("image exceeds %d bytes", p.imageLimit())), meta)
	}

	return domain.Succeeded(prediction.BytesBase64Encoded, meta)
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

	message := http.StatusText(resp.StatusCode)
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	code := domain.ClassifyHTTPStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusBadRequest && domain.IsContentPolicyMessage(message) {
		code = domain.CodeContentPolicy
	}

	return domain.NewProviderError(p.name, code, message).WithStatus(resp.StatusCode)
}

// aspectRatio maps "WIDTHxHEIGHT" to one of the ratios Imagen accepts, or "" to use the default.
func aspectRatio(size string) string {
	w, h, found := strings.Cut(strings.ToLower(size), "x")
	if !found {
		return ""
	}
	width, errW := strconv.Atoi(strings.TrimSpace(w))
	height, errH := strconv.Atoi(strings.TrimSpace(h))
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return ""
	}

	d := gcd(width, height)
	ratio := fmt.Sprintf("%d:%d", width/d, height/d)
	switch ratio {
	case "1:1", "3:4", "4:3", "9:16", "16:9":
		return ratio
	default:
		return ""
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
