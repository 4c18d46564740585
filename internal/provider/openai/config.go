package openai

import "github.com/davidbz/kiln/internal/domain"

// Config contains OpenAI image provider configuration.
// Fields map to OpenAI SDK options:
//   - APIKey: option.WithAPIKey()
//   - BaseURL: option.WithBaseURL()
//   - Timeout: option.WithRequestTimeout() (in seconds)
type Config struct {
	APIKey        string  `env:"OPENAI_API_KEY"`
	BaseURL       string  `env:"OPENAI_BASE_URL"        envDefault:"https://api.openai.com/v1"`
	Timeout       int     `env:"OPENAI_TIMEOUT"         envDefault:"120"`
	Model         string  `env:"OPENAI_IMAGE_MODEL"     envDefault:"dall-e-3"`
	Size          string  `env:"OPENAI_IMAGE_SIZE"      envDefault:"1024x1024"`
	Cost          float64 `env:"OPENAI_IMAGE_COST"     envDefault:"2"`
	MaxImageBytes int64   `env:"OPENAI_MAX_IMAGE_BYTES" envDefault:"20971520"`
}

func (c Config) imageLimit() int64 {
	if c.MaxImageBytes <= 0 {
		return domain.MaxImageBytes
	}
	return c.MaxImageBytes
}
