package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/kiln/internal/circuitbreaker"
	"github.com/davidbz/kiln/internal/domain"
	enhance "github.com/davidbz/kiln/internal/enhance/openai"
	ledger "github.com/davidbz/kiln/internal/ledger/redis"
	"github.com/davidbz/kiln/internal/provider/dezgo"
	"github.com/davidbz/kiln/internal/provider/echo"
	"github.com/davidbz/kiln/internal/provider/google"
	"github.com/davidbz/kiln/internal/provider/openai"
	"github.com/davidbz/kiln/internal/queue"
	"github.com/davidbz/kiln/internal/retry"
	"github.com/davidbz/kiln/internal/store"
)

// Config represents the service configuration.
type Config struct {
	Server     ServerConfig
	CORS       CORSConfig
	OpenAI     openai.Config
	Dezgo      dezgo.Config
	Google     google.Config
	Echo       echo.Config
	Enhance    enhance.Config
	Redis      RedisConfig
	Ledger     ledger.Config
	Database   store.Config
	Queue      QueueConfig
	RateLimit  RateLimitConfig
	Breaker    BreakerConfig
	Retry      RetryConfig
	Generation GenerationConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `env:"SERVER_PORT"             envDefault:"8080"`
	ReadTimeout     int           `env:"SERVER_READ_TIMEOUT"     envDefault:"30"`
	WriteTimeout    int           `env:"SERVER_WRITE_TIMEOUT"    envDefault:"330"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes    int64         `env:"SERVER_MAX_BODY_BYTES"   envDefault:"65536"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization,X-User-ID,X-Username,X-Trace-ID"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// RedisConfig contains the Redis connection used by the credit ledger.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"       envDefault:"0"`
}

// QueueConfig contains request queue settings.
type QueueConfig struct {
	MaxConcurrent  int           `env:"QUEUE_MAX_CONCURRENT"  envDefault:"4"`
	DefaultTimeout time.Duration `env:"QUEUE_DEFAULT_TIMEOUT" envDefault:"300s"`
	MaxPending     int           `env:"QUEUE_MAX_PENDING"     envDefault:"100"`
	AgingInterval  time.Duration `env:"QUEUE_AGING_INTERVAL"  envDefault:"10s"`
}

// Queue converts to the queue package configuration.
func (c QueueConfig) Queue() queue.Config {
	return queue.Config{
		MaxConcurrent:  c.MaxConcurrent,
		DefaultTimeout: c.DefaultTimeout,
		MaxPending:     c.MaxPending,
		AgingInterval:  c.AgingInterval,
	}
}

// RateLimitConfig contains per-user sliding window settings.
type RateLimitConfig struct {
	MaxRequests   int           `env:"RATE_LIMIT_MAX_REQUESTS"   envDefault:"10"`
	Window        time.Duration `env:"RATE_LIMIT_WINDOW"         envDefault:"60s"`
	SweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"1m"`
}

// RateLimit converts to the queue package configuration.
func (c RateLimitConfig) RateLimit() queue.RateLimitConfig {
	return queue.RateLimitConfig{
		MaxRequests:   c.MaxRequests,
		Window:        c.Window,
		SweepInterval: c.SweepInterval,
	}
}

// BreakerConfig contains circuit breaker thresholds.
// The image settings apply to imageGeneration:<provider>; the others to subsystem breakers.
type BreakerConfig struct {
	ImageThreshold     int           `env:"BREAKER_IMAGE_THRESHOLD"      envDefault:"5"`
	ImageTimeout       time.Duration `env:"BREAKER_IMAGE_TIMEOUT"        envDefault:"60s"`
	AIServiceThreshold int           `env:"BREAKER_AI_SERVICE_THRESHOLD" envDefault:"3"`
	AIServiceTimeout   time.Duration `env:"BREAKER_AI_SERVICE_TIMEOUT"   envDefault:"30s"`
	DatabaseThreshold  int           `env:"BREAKER_DATABASE_THRESHOLD"   envDefault:"5"`
	DatabaseTimeout    time.Duration `env:"BREAKER_DATABASE_TIMEOUT"     envDefault:"30s"`
}

// Image returns the provider breaker configuration.
func (c BreakerConfig) Image() circuitbreaker.Config {
	return circuitbreaker.Config{FailureThreshold: c.ImageThreshold, Timeout: c.ImageTimeout}
}

// Options returns registry options carrying the subsystem overrides.
func (c BreakerConfig) Options() []circuitbreaker.Option {
	return []circuitbreaker.Option{
		circuitbreaker.WithKeyConfig(domain.AIServiceBreaker, circuitbreaker.Config{
			FailureThreshold: c.AIServiceThreshold,
			Timeout:          c.AIServiceTimeout,
		}),
		circuitbreaker.WithKeyConfig(domain.DatabaseBreaker, circuitbreaker.Config{
			FailureThreshold: c.DatabaseThreshold,
			Timeout:          c.DatabaseTimeout,
		}),
	}
}

// RetryConfig contains provider retry settings.
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"2"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY"   envDefault:"1s"`
	Factor      float64       `env:"RETRY_FACTOR"       envDefault:"2"`
	Jitter      float64       `env:"RETRY_JITTER"       envDefault:"0.2"`
}

// Policy converts to a retry policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		Factor:      c.Factor,
		Jitter:      c.Jitter,
	}
}

// GenerationConfig contains orchestration settings.
type GenerationConfig struct {
	FanOut          bool          `env:"GENERATION_FAN_OUT"          envDefault:"false"`
	MaxFanOut       int           `env:"GENERATION_MAX_FAN_OUT"      envDefault:"5"`
	MaxProviders    int           `env:"GENERATION_MAX_PROVIDERS"    envDefault:"10"`
	DefaultCost     float64       `env:"GENERATION_DEFAULT_COST"     envDefault:"1"`
	ProviderTimeout time.Duration `env:"GENERATION_PROVIDER_TIMEOUT" envDefault:"120s"`
	JobTimeout      time.Duration `env:"GENERATION_JOB_TIMEOUT"      envDefault:"300s"`
	DetachedTimeout time.Duration `env:"GENERATION_DETACHED_TIMEOUT" envDefault:"30s"`

	// PromptVariables maps a variable name to "|" separated values, e.g. "style=oil|ink;mood=calm|dark".
	PromptVariables map[string]string `env:"PROMPT_VARIABLES" envSeparator:";" envKeyValSeparator:"="`
}

// Variables returns the prompt variable lists.
func (c GenerationConfig) Variables() map[string][]string {
	vars := make(map[string][]string, len(c.PromptVariables))
	for name, raw := range c.PromptVariables {
		var values []string
		for _, v := range strings.Split(raw, "|") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if name = strings.TrimSpace(name); name != "" && len(values) > 0 {
			vars[name] = values
		}
	}
	return vars
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*openai.Config
	*DezgoConfig
	*GoogleConfig
	*EchoConfig
	*EnhanceConfig
	*RedisConfig
	*LedgerConfig
	*DatabaseConfig
	*QueueConfig
	*RateLimitConfig
	*BreakerConfig
	*RetryConfig
	*GenerationConfig
}

// Aliases give embedded sub-configs distinct field names in DepConfig.
type (
	DezgoConfig    = dezgo.Config
	GoogleConfig   = google.Config
	EchoConfig     = echo.Config
	EnhanceConfig  = enhance.Config
	LedgerConfig   = ledger.Config
	DatabaseConfig = store.Config
)

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.OpenAI,
		&cfg.Dezgo,
		&cfg.Google,
		&cfg.Echo,
		&cfg.Enhance,
		&cfg.Redis,
		&cfg.Ledger,
		&cfg.Database,
		&cfg.Queue,
		&cfg.RateLimit,
		&cfg.Breaker,
		&cfg.Retry,
		&cfg.Generation,
	}
}
