// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() *costwise.Request {
	return &costwise.Request{
		ID:       "req-1",
		Provider: "openai",
		Model:    "gpt-4o",
		Messages: []costwise.Message{{Role: "user", Content: "hello"}},
	}
}

func TestOpenAICompat_GenerateSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "hi there"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4},
		})
	}))
	defer server.Close()

	client := NewOpenAICompatClient("openai", server.URL, "sk-test")
	resp, err := client.Generate(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody["model"])
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestOpenAICompat_AuthFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key", "type": "auth_error"},
		})
	}))
	defer server.Close()

	client := NewOpenAICompatClient("openai", server.URL, "sk-bad")
	_, err := client.Generate(context.Background(), testRequest())

	var provErr *costwise.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, costwise.ProviderErrorFatal, provErr.Kind)
	assert.Contains(t, provErr.Message, "invalid api key")
	assert.False(t, provErr.Retryable())
}

func TestOpenAICompat_RateLimitCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAICompatClient("openai", server.URL, "sk-test")
	_, err := client.Generate(context.Background(), testRequest())

	var provErr *costwise.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, costwise.ProviderErrorRateLimited, provErr.Kind)
	assert.Equal(t, 7*time.Second, provErr.RetryAfter)
	assert.True(t, provErr.Retryable())
}

func TestOpenAICompat_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewOpenAICompatClient("openai", server.URL, "sk-test")
	_, err := client.Generate(context.Background(), testRequest())

	var provErr *costwise.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, costwise.ProviderErrorTransient, provErr.Kind)
}

func TestOpenAICompat_ConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // nothing is listening anymore

	client := NewOpenAICompatClient("openai", server.URL, "sk-test")
	_, err := client.Generate(context.Background(), testRequest())

	var provErr *costwise.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, costwise.ProviderErrorTransient, provErr.Kind)
}

func TestOpenAICompat_ContextCancellationPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can detect the
		// client disconnect and cancel the request context.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewOpenAICompatClient("openai", server.URL, "sk-test")
	_, err := client.Generate(ctx, testRequest())

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAICompat_EmptyChoicesIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := NewOpenAICompatClient("openai", server.URL, "sk-test")
	_, err := client.Generate(context.Background(), testRequest())

	var provErr *costwise.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, costwise.ProviderErrorTransient, provErr.Kind)
	assert.Contains(t, provErr.Message, "no choices")
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "seconds", value: "30", want: 30 * time.Second},
		{name: "empty", value: "", want: 0},
		{name: "garbage", value: "soon", want: 0},
		{name: "negative", value: "-5", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value))
		})
	}
}
