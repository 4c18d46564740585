package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/config"
	"github.com/davidbz/kiln/internal/domain"
)

func TestLoad(t *testing.T) {
	t.Run("should load config with defaults", func(t *testing.T) {
		// Clear environment
		os.Clearenv()

		cfg := config.Load()

		require.NotNil(t, cfg)

		require.Equal(t, 8080, cfg.Server.Port)
		require.Equal(t, 30, cfg.Server.ReadTimeout)
		require.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
		require.Equal(t, "dall-e-3", cfg.OpenAI.Model)
		require.Empty(t, cfg.OpenAI.APIKey)
		require.Equal(t, "https://api.dezgo.com", cfg.Dezgo.BaseURL)
		require.Equal(t, "imagen-3.0-generate-002", cfg.Google.Model)
		require.True(t, cfg.Echo.Enabled)
		require.Equal(t, "gpt-4o-mini", cfg.Enhance.Model)
		require.Equal(t, "localhost:6379", cfg.Redis.Addr)
		require.Equal(t, "kiln:ledger", cfg.Ledger.Prefix)
		require.Equal(t, "/v1/images", cfg.Database.ImageBaseURL)

		require.Equal(t, 4, cfg.Queue.MaxConcurrent)
		require.Equal(t, 300*time.Second, cfg.Queue.DefaultTimeout)
		require.Equal(t, 10, cfg.RateLimit.MaxRequests)
		require.Equal(t, time.Minute, cfg.RateLimit.Window)
		require.Equal(t, 5, cfg.Breaker.ImageThreshold)
		require.Equal(t, 2, cfg.Retry.MaxAttempts)
		require.False(t, cfg.Generation.FanOut)
		require.Equal(t, 5, cfg.Generation.MaxFanOut)
		require.Equal(t, 120*time.Second, cfg.Generation.ProviderTimeout)
		require.LessOrEqual(t, cfg.Generation.ProviderTimeout, cfg.Generation.JobTimeout)
		// A response must still be writable when a job runs to its timeout.
		require.Greater(t, time.Duration(cfg.Server.WriteTimeout)*time.Second, cfg.Generation.JobTimeout)
		require.Greater(t, time.Duration(cfg.Server.WriteTimeout)*time.Second, cfg.Queue.DefaultTimeout)
	})

	t.Run("should load config from environment variables", func(t *testing.T) {
		t.Setenv("SERVER_PORT", "9000")
		t.Setenv("OPENAI_API_KEY", "sk-test-key")
		t.Setenv("OPENAI_BASE_URL", "https://test.openai.com")
		t.Setenv("DEZGO_API_KEY", "dz-key")
		t.Setenv("QUEUE_MAX_CONCURRENT", "8")
		t.Setenv("RATE_LIMIT_WINDOW", "30s")
		t.Setenv("BREAKER_AI_SERVICE_THRESHOLD", "2")
		t.Setenv("GENERATION_FAN_OUT", "true")
		t.Setenv("PROMPT_VARIABLES", "style=oil| ink ;mood=calm")

		cfg := config.Load()

		require.NotNil(t, cfg)

		require.Equal(t, 9000, cfg.Server.Port)
		require.Equal(t, "sk-test-key", cfg.OpenAI.APIKey)
		require.Equal(t, "sk-test-key", cfg.Enhance.APIKey)
		require.Equal(t, "https://test.openai.com", cfg.OpenAI.BaseURL)
		require.Equal(t, "dz-key", cfg.Dezgo.APIKey)
		require.Equal(t, 8, cfg.Queue.Queue().MaxConcurrent)
		require.Equal(t, 30*time.Second, cfg.RateLimit.RateLimit().Window)
		require.Equal(t, 2, cfg.Breaker.AIServiceThreshold)
		require.True(t, cfg.Generation.FanOut)
		require.Equal(t, map[string][]string{
			"style": {"oil", "ink"},
			"mood":  {"calm"},
		}, cfg.Generation.Variables())
	})
}

func TestConversions(t *testing.T) {
	breaker := config.BreakerConfig{ImageThreshold: 4, ImageTimeout: time.Second}
	require.Equal(t, 4, breaker.Image().FailureThreshold)
	require.Len(t, breaker.Options(), 2)

	policy := config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, Jitter: 0.1}.Policy()
	require.Equal(t, 3, policy.MaxAttempts)
	require.Equal(t, time.Millisecond, policy.BaseDelay)

	require.Empty(t, config.GenerationConfig{}.Variables())
}

func TestParseDependenciesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Generation.MaxProviders = domain.MaxProviders

	deps := config.ParseDependenciesConfig(cfg)

	require.Same(t, &cfg.Server, deps.ServerConfig)
	require.Same(t, &cfg.Generation, deps.GenerationConfig)
	require.Same(t, &cfg.Database, deps.DatabaseConfig)
}
