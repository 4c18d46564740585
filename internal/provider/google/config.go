package google

// Config contains Google Imagen provider configuration.
type Config struct {
	APIKey        string  `env:"GOOGLE_API_KEY"`
	BaseURL       string  `env:"GOOGLE_BASE_URL"        envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	Timeout       int     `env:"GOOGLE_TIMEOUT"         envDefault:"120"`
	Model         string  `env:"GOOGLE_IMAGE_MODEL"     envDefault:"imagen-3.0-generate-002"`
	Cost          float64 `env:"GOOGLE_IMAGE_COST"      envDefault:"2"`
	MaxImageBytes int64   `env:"GOOGLE_MAX_IMAGE_BYTES" envDefault:"20971520"`
}
