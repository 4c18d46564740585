// Package echo provides a testing provider that renders a solid-color PNG from the prompt.
// It implements domain.ImageProvider without making external API calls,
// providing deterministic images for testing and development purposes.
package echo

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/observability"
)

const (
	providerName = "echo"
	modelName    = "echo-png"
	defaultSide  = 64
	maxSide      = 512
)

// Config contains echo provider configuration.
type Config struct {
	Enabled bool          `env:"ECHO_ENABLED" envDefault:"true"`
	Delay   time.Duration `env:"ECHO_DELAY"   envDefault:"0s"`
	Cost    float64       `env:"ECHO_COST"    envDefault:"0"`
}

// Provider implements domain.ImageProvider for echo testing.
type Provider struct {
	config Config
	name   string
}

// NewProvider creates a new echo provider.
// No credentials are required as this provider operates entirely in-memory.
func NewProvider(config Config) *Provider {
	return &Provider{
		config: config,
		name:   providerName,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// RegisterModels adds the echo model to the catalog.
func (p *Provider) RegisterModels(ctx context.Context, catalog *domain.InMemoryModelCatalog) error {
	if err := catalog.RegisterModel(ctx, domain.GeneratorConfig{
		Key:    providerName,
		Type:   providerName,
		Model:  modelName,
		Size:   fmt.Sprintf("%dx%d", defaultSide, defaultSide),
		Cost:   p.config.Cost,
		Active: p.config.Enabled,
	}); err != nil {
		return fmt.Errorf("failed to register echo model: %w", err)
	}
	return nil
}

// Generate renders a PNG whose color is derived from the prompt.
func (p *Provider) Generate(ctx context.Context, call domain.ProviderCall) domain.ImageResult {
	started := time.Now()
	meta := domain.ResultMeta{
		RequestID: call.RequestID,
		Provider:  p.name,
		Model:     modelName,
		Timestamp: started,
	}

	if p.config.Delay > 0 {
		timer := time.NewTimer(p.config.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			meta.Duration = time.Since(started)
			return domain.Failed(domain.ClassifyTransportError(ctx, p.name, ctx.Err()), meta)
		case <-timer.C:
		}
	}

	logger := observability.FromContext(ctx)
	logger.Debug("rendering echo image")

	width, height := dimensions(call.Size)
	encoded, err := render(call.Prompt, width, height)
	meta.Duration = time.Since(started)
	if err != nil {
		return domain.Failed(domain.NewProviderError(p.name, domain.CodeUnknown, err.Error()).WithCause(err), meta)
	}

	logger.Debug("echo image rendered",
		observability.Int("width", width),
		observability.Int("height", height),
	)

	return domain.Succeeded(encoded, meta)
}

// render draws a solid image in the prompt's color and returns it base64 encoded.
func render(prompt string, width, height int) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// dimensions parses "WIDTHxHEIGHT", falling back to the default and capping each side.
func dimensions(size string) (int, int) {
	w, h, found := strings.Cut(strings.ToLower(size), "x")
	if !found {
		return defaultSide, defaultSide
	}
	width, errW := strconv.Atoi(strings.TrimSpace(w))
	height, errH := strconv.Atoi(strings.TrimSpace(h))
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return defaultSide, defaultSide
	}
	return min(width, maxSide), min(height, maxSide)
}
