package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/provider/openai"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
			"param":   nil,
		},
	})
}

func call() domain.ProviderCall {
	return domain.ProviderCall{
		RequestID: "req-1",
		Prompt:    "a red bicycle",
		Model:     "dall-e-3",
		UserID:    "u1",
		Quality:   "hd",
	}
}

func TestProvider_Name(t *testing.T) {
	require.Equal(t, "openai", openai.NewProvider(openai.Config{APIKey: "k"}).Name())
}

func TestProvider_Generate_Success(t *testing.T) {
	image := base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	var body map[string]any
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/images/generations"))
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]any{{"b64_json": image}},
		})
	})

	provider := openai.NewProvider(openai.Config{APIKey: "test-key", BaseURL: server.URL, Size: "1024x1024"})
	result := provider.Generate(context.Background(), call())

	require.True(t, result.OK, "%v", result.Err())
	require.Equal(t, image, result.ImageBase64)
	require.Equal(t, "openai", result.Meta.Provider)
	require.Equal(t, "dall-e-3", result.Meta.Model)
	require.Equal(t, "req-1", result.Meta.RequestID)

	require.Equal(t, "a red bicycle", body["prompt"])
	require.Equal(t, "dall-e-3", body["model"])
	require.Equal(t, "1024x1024", body["size"])
	require.Equal(t, "hd", body["quality"])
	require.Equal(t, "b64_json", body["response_format"])
}

func TestProvider_Generate_MissingCredentials(t *testing.T) {
	hit := false
	server := newServer(t, func(http.ResponseWriter, *http.Request) { hit = true })

	result := openai.NewProvider(openai.Config{BaseURL: server.URL}).Generate(context.Background(), call())

	require.False(t, result.OK)
	require.Equal(t, domain.CodeMissingCredentials, result.Failure.Code)
	require.False(t, result.Failure.Retryable)
	require.False(t, hit)
}

func TestProvider_Generate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		message   string
		want      domain.ErrorCode
		retryable bool
	}{
		{"content policy code", http.StatusBadRequest, "content_policy_violation", "rejected", domain.CodeContentPolicy, false},
		{"safety message", http.StatusBadRequest, "", "Your request was rejected by our safety system", domain.CodeContentPolicy, false},
		{"invalid params", http.StatusBadRequest, "invalid_size", "bad size", domain.CodeInvalidParams, false},
		{"auth", http.StatusUnauthorized, "invalid_api_key", "bad key", domain.CodeAuthFailed, false},
		{"rate limit", http.StatusTooManyRequests, "rate_limit_exceeded", "slow down", domain.CodeRateLimit, true},
		{"server error", http.StatusBadGateway, "", "upstream", domain.CodeServerError, true},
		{"not implemented", http.StatusNotImplemented, "", "unsupported", domain.CodeServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, tt.status, tt.code, tt.message)
			})

			result := openai.NewProvider(openai.Config{APIKey: "k", BaseURL: server.URL}).
				Generate(context.Background(), call())

			require.False(t, result.OK)
			require.Equal(t, tt.want, result.Failure.Code)
			require.Equal(t, tt.retryable, result.Failure.Retryable)
			require.Equal(t, tt.status, result.Failure.StatusCode)
			require.Equal(t, tt.status, result.Meta.StatusCode)
		})
	}
}

func TestProvider_Generate_PayloadTooLarge(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(make([]byte, 4096))}},
		})
	})

	result := openai.NewProvider(openai.Config{APIKey: "k", BaseURL: server.URL, MaxImageBytes: 1024}).
		Generate(context.Background(), call())

	require.False(t, result.OK)
	require.Equal(t, domain.CodePayloadTooLarge, result.Failure.Code)
	require.False(t, result.Failure.Retryable)
}

func TestProvider_Generate_EmptyResponse(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"created":1,"data":[]}`)
	})

	result := openai.NewProvider(openai.Config{APIKey: "k", BaseURL: server.URL}).Generate(context.Background(), call())

	require.False(t, result.OK)
	require.Equal(t, domain.CodeInvalidResponse, result.Failure.Code)
}

func TestProvider_Generate_Cancelled(t *testing.T) {
	release := make(chan struct{})
	server := newServer(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := openai.NewProvider(openai.Config{APIKey: "k", BaseURL: server.URL}).Generate(ctx, call())

	require.False(t, result.OK)
	require.Equal(t, domain.CodeCancelled, result.Failure.Code)
	require.True(t, result.Failure.BreakerNeutral())
}

func TestProvider_RegisterModels(t *testing.T) {
	catalog := domain.NewInMemoryModelCatalog()
	provider := openai.NewProvider(openai.Config{Model: "dall-e-3", Size: "1024x1024", Cost: 2})

	require.NoError(t, provider.RegisterModels(context.Background(), catalog))

	for _, key := range []string{"openai", "dalle"} {
		cfg, err := catalog.GetGeneratorConfig(context.Background(), key)
		require.NoError(t, err)
		require.Equal(t, "openai", cfg.Type)
		require.Equal(t, "dall-e-3", cfg.Model)
		require.InDelta(t, 2.0, cfg.Cost, 1e-9)
	}
}
