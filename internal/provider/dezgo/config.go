package dezgo

// Config contains Dezgo provider configuration.
type Config struct {
	APIKey        string  `env:"DEZGO_API_KEY"`
	BaseURL       string  `env:"DEZGO_BASE_URL"        envDefault:"https://api.dezgo.com"`
	Timeout       int     `env:"DEZGO_TIMEOUT"         envDefault:"120"`
	Cost          float64 `env:"DEZGO_COST"            envDefault:"1"`
	MaxImageBytes int64   `env:"DEZGO_MAX_IMAGE_BYTES" envDefault:"20971520"`
}
