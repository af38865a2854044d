package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairoslabs/kairos-agent/config"
)

func chatCompletion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(body)
}

func newTestLLM(url, model, fallback string) *LLMService {
	return NewLLMService(&config.Config{
		LLMAPIKey:        "test-key",
		LLMAPIURL:        url,
		LLMModel:         model,
		LLMFallbackModel: fallback,
	}, zerolog.Nop())
}

func TestLLMService(t *testing.T) {
	ctx := context.Background()

	t.Run("GenerateText sends the expected request shape", func(t *testing.T) {
		var got chatRequest
		var auth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			fmt.Fprint(w, chatCompletion("  Hello there.  "))
		}))
		defer server.Close()

		svc := newTestLLM(server.URL, "primary-model", "")
		text, err := svc.GenerateText(ctx, "say hello")
		require.NoError(t, err)

		assert.Equal(t, "Hello there.", text)
		assert.Equal(t, "Bearer test-key", auth)
		assert.Equal(t, "primary-model", got.Model)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "say hello", got.Messages[0].Content)
		assert.Nil(t, got.ResponseFormat)
	})

	t.Run("GenerateJSON requests json_object mode and strips fences", func(t *testing.T) {
		var got chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			fmt.Fprint(w, chatCompletion("```json\n{\"tool\": \"search_restaurants\"}\n```"))
		}))
		defer server.Close()

		svc := newTestLLM(server.URL, "primary-model", "")
		raw, err := svc.GenerateJSON(ctx, "plan")
		require.NoError(t, err)

		assert.JSONEq(t, `{"tool": "search_restaurants"}`, string(raw))
		assert.Equal(t, map[string]string{"type": "json_object"}, got.ResponseFormat)
	})

	t.Run("GenerateJSON rejects non-JSON output", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, chatCompletion("I'd recommend trying Thai food!"))
		}))
		defer server.Close()

		svc := newTestLLM(server.URL, "primary-model", "")
		_, err := svc.GenerateJSON(ctx, "plan")
		require.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("fails over to the fallback model", func(t *testing.T) {
		var primaryCalls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Model == "primary-model" {
				primaryCalls.Add(1)
				http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, chatCompletion("fallback answer"))
		}))
		defer server.Close()

		svc := newTestLLM(server.URL, "primary-model", "fallback-model")
		text, err := svc.GenerateText(ctx, "anything")
		require.NoError(t, err)

		assert.Equal(t, "fallback answer", text)
		assert.Equal(t, int32(llmMaxAttempts), primaryCalls.Load())
	})

	t.Run("exhausted attempts surface ErrGenerationFailed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer server.Close()

		svc := newTestLLM(server.URL, "primary-model", "")
		_, err := svc.GenerateText(ctx, "anything")
		require.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer server.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		svc := newTestLLM(server.URL, "primary-model", "fallback-model")
		_, err := svc.GenerateText(cancelled, "anything")
		require.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("empty choices list is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"choices": []}`)
		}))
		defer server.Close()

		svc := newTestLLM(server.URL, "primary-model", "")
		_, err := svc.GenerateText(ctx, "anything")
		require.ErrorIs(t, err, ErrGenerationFailed)
	})
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"unterminated fence", "```json\n{\"a\": 1}", `{"a": 1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\": 1}\n```\n  ", `{"a": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stripFences(tc.in))
		})
	}
}
