package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/enhance/openai"
)

func chatServer(t *testing.T, status int, content string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error","code":null,"param":null}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server, &body
}

func TestNewEnhancer_MissingAPIKey(t *testing.T) {
	enhancer, err := openai.NewEnhancer(openai.Config{})

	require.Error(t, err)
	require.Nil(t, enhancer)
	require.Contains(t, err.Error(), "OpenAI API key is required")
}

func TestEnhancer_Enhance(t *testing.T) {
	server, body := chatServer(t, http.StatusOK, `  "a cat on a windowsill, golden hour"  `)

	enhancer, err := openai.NewEnhancer(openai.Config{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini", MaxTokens: 50})
	require.NoError(t, err)

	got, err := enhancer.Enhance(context.Background(), "a cat")
	require.NoError(t, err)
	require.Equal(t, "a cat on a windowsill, golden hour", got)

	require.Equal(t, "gpt-4o-mini", (*body)["model"])
	messages := (*body)["messages"].([]any)
	require.Len(t, messages, 2)
	require.Equal(t, "a cat", messages[1].(map[string]any)["content"])
}

func TestEnhancer_Errors(t *testing.T) {
	t.Run("should reject empty prompt", func(t *testing.T) {
		enhancer, err := openai.NewEnhancer(openai.Config{APIKey: "k"})
		require.NoError(t, err)

		_, err = enhancer.Enhance(context.Background(), " ")
		require.Error(t, err)
	})

	t.Run("should surface api errors", func(t *testing.T) {
		server, _ := chatServer(t, http.StatusInternalServerError, "")
		enhancer, err := openai.NewEnhancer(openai.Config{APIKey: "k", BaseURL: server.URL})
		require.NoError(t, err)

		_, err = enhancer.Enhance(context.Background(), "a cat")
		require.Error(t, err)
		require.Contains(t, err.Error(), "prompt enhancement failed")
	})

	t.Run("should reject empty completion", func(t *testing.T) {
		server, _ := chatServer(t, http.StatusOK, "   ")
		enhancer, err := openai.NewEnhancer(openai.Config{APIKey: "k", BaseURL: server.URL})
		require.NoError(t, err)

		_, err = enhancer.Enhance(context.Background(), "a cat")
		require.Error(t, err)
	})
}
