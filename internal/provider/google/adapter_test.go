package google_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/provider/google"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestProvider_Generate_Success(t *testing.T) {
	image := base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	var body map[string]any
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/imagen-3.0-generate-002:predict", r.URL.Path)
		require.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		writeJSON(w, http.StatusOK, map[string]any{
			"predictions": []map[string]any{{"bytesBase64Encoded": image, "mimeType": "image/png"}},
		})
	})

	provider := google.NewProvider(google.Config{APIKey: "g-key", BaseURL: server.URL, Model: "imagen-3.0-generate-002"})
	result := provider.Generate(context.Background(), domain.ProviderCall{
		RequestID: "req-1",
		Prompt:    "a red bicycle",
		Guidance:  7.5,
		Size:      "1792x1008",
	})

	require.True(t, result.OK, "%v", result.Err())
	require.Equal(t, image, result.ImageBase64)
	require.Equal(t, "imagen-3.0-generate-002", result.Meta.Model)

	instances := body["instances"].([]any)
	require.Equal(t, "a red bicycle", instances[0].(map[string]any)["prompt"])
	params := body["parameters"].(map[string]any)
	require.Equal(t, "16:9", params["aspectRatio"])
	require.InDelta(t, 7.5, params["guidanceScale"], 1e-9)
}

func TestProvider_Generate_MissingCredentials(t *testing.T) {
	result := google.NewProvider(google.Config{}).Generate(context.Background(), domain.ProviderCall{Prompt: "p"})

	require.False(t, result.OK)
	require.Equal(t, domain.CodeMissingCredentials, result.Failure.Code)
}

func TestProvider_Generate_Filtered(t *testing.T) {
	t.Run("empty predictions", func(t *testing.T) {
		server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{})
		})

		result := google.NewProvider(google.Config{APIKey: "k", BaseURL: server.URL, Model: "m"}).
			Generate(context.Background(), domain.ProviderCall{Prompt: "p"})

		require.False(t, result.OK)
		require.Equal(t, domain.CodeContentPolicy, result.Failure.Code)
		require.False(t, result.Failure.Retryable)
	})

	t.Run("rai reason", func(t *testing.T) {
		server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"predictions": []map[string]any{{"raiFilteredReason": "filtered for safety"}},
			})
		})

		result := google.NewProvider(google.Config{APIKey: "k", BaseURL: server.URL, Model: "m"}).
			Generate(context.Background(), domain.ProviderCall{Prompt: "p"})

		require.False(t, result.OK)
		require.Equal(t, domain.CodeContentPolicy, result.Failure.Code)
	})
}

func TestProvider_Generate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    domain.ErrorCode
	}{
		{"blocked prompt", http.StatusBadRequest, "Prompt was blocked by safety filters", domain.CodeContentPolicy},
		{"invalid argument", http.StatusBadRequest, "Invalid aspect ratio", domain.CodeInvalidParams},
		{"permission denied", http.StatusForbidden, "API key not valid", domain.CodeAuthFailed},
		{"unknown model", http.StatusNotFound, "model not found", domain.CodeProviderUnavailable},
		{"quota", http.StatusTooManyRequests, "Resource exhausted", domain.CodeRateLimit},
		{"internal", http.StatusInternalServerError, "internal", domain.CodeServerError},
		{"not implemented", http.StatusNotImplemented, "method not implemented", domain.CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, map[string]any{
					"error": map[string]any{"code": tt.status, "message": tt.message, "status": "X"},
				})
			})

			result := google.NewProvider(google.Config{APIKey: "k", BaseURL: server.URL, Model: "m"}).
				Generate(context.Background(), domain.ProviderCall{Prompt: "p"})

			require.False(t, result.OK)
			require.Equal(t, tt.want, result.Failure.Code)
			require.Equal(t, tt.message, result.Failure.Message)
			require.Equal(t, tt.status, result.Failure.StatusCode)
			require.Equal(t, tt.status == http.StatusTooManyRequests || tt.status == http.StatusInternalServerError,
				result.Failure.Retryable)
		})
	}
}

func TestProvider_Generate_PayloadTooLarge(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"predictions": []map[string]any{{"bytesBase64Encoded": base64.StdEncoding.EncodeToString(make([]byte, 4096))}},
		})
	})

	result := google.NewProvider(google.Config{APIKey: "k", BaseURL: server.URL, Model: "m", MaxImageBytes: 1024}).
		Generate(context.Background(), domain.ProviderCall{Prompt: "p"})

	require.False(t, result.OK)
	require.Equal(t, domain.CodePayloadTooLarge, result.Failure.Code)
}

func TestProvider_Generate_OversizedErrorBody(t *testing.T) {
	// Larger than the encoded limit for a 1KB image.
	body := strings.Repeat("x", 256*1024)

	t.Run("declared length", func(t *testing.T) {
		server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, body)
		})

		result := google.NewProvider(google.Config{APIKey: "k", BaseURL: server.URL, Model: "m", MaxImageBytes: 1024}).
			Generate(context.Background(), domain.ProviderCall{Prompt: "p"})

		require.False(t, result.OK)
		require.Equal(t, domain.CodePayloadTooLarge, result.Failure.Code)
		require.Equal(t, http.StatusServiceUnavailable, result.Failure.StatusCode)
		require.False(t, result.Failure.Retryable)
	})

	t.Run("streamed", func(t *testing.T) {
		server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.(http.Flusher).Flush()
			_, _ = io.WriteString(w, body)
		})

		result := google.NewProvider(google.Config{APIKey: "k", BaseURL: server.URL, Model: "m", MaxImageBytes: 1024}).
			Generate(context.Background(), domain.ProviderCall{Prompt: "p"})

		require.False(t, result.OK)
		require.Equal(t, domain.CodePayloadTooLarge, result.Failure.Code)
		require.Equal(t, http.StatusInternalServerError, result.Failure.StatusCode)
		require.False(t, result.Failure.Retryable)
	})
}

func TestProvider_Generate_MalformedBody(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>oops</html>")
	})

	result := google.NewProvider(google.Config{APIKey: "k", BaseURL: server.URL, Model: "m"}).
		Generate(context.Background(), domain.ProviderCall{Prompt: "p"})

	require.False(t, result.OK)
	require.Equal(t, domain.CodeInvalidResponse, result.Failure.Code)
}
