package openai

// Config holds configuration for the OpenAI prompt enhancer.
type Config struct {
	APIKey      string  `env:"OPENAI_API_KEY"`
	BaseURL     string  `env:"OPENAI_BASE_URL"       envDefault:"https://api.openai.com/v1"`
	Model       string  `env:"ENHANCE_MODEL"         envDefault:"gpt-4o-mini"`
	Temperature float64 `env:"ENHANCE_TEMPERATURE"   envDefault:"0.7"`
	MaxTokens   int     `env:"ENHANCE_MAX_TOKENS"    envDefault:"300"`
}
