// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package providers holds the concrete provider client integrations. Every
// client normalizes its upstream's failures into *costwise.ProviderError so
// the retry executor can classify them uniformly.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/costwise-ai/costwise"
)

const defaultHTTPTimeout = 120 * time.Second

// OpenAICompatClient speaks the OpenAI chat completions wire format, which
// most hosted and self-hosted providers expose
type OpenAICompatClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenAICompatOption configures OpenAICompatClient behavior
type OpenAICompatOption func(*OpenAICompatClient)

// WithHTTPClient overrides the HTTP client used for provider calls
func WithHTTPClient(client *http.Client) OpenAICompatOption {
	return func(c *OpenAICompatClient) {
		c.httpClient = client
	}
}

// WithClientLogger sets the logger for the client
func WithClientLogger(logger *slog.Logger) OpenAICompatOption {
	return func(c *OpenAICompatClient) {
		c.logger = logger
	}
}

// NewOpenAICompatClient creates a client for one provider endpoint. name is
// the provider identifier requests route on; baseURL is the API root, e.g.
// "https://api.openai.com/v1".
func NewOpenAICompatClient(name, baseURL, apiKey string, options ...OpenAICompatOption) *OpenAICompatClient {
	c := &OpenAICompatClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends one chat completion request and normalizes the response.
// Failures come back as *costwise.ProviderError classified for retry.
func (c *OpenAICompatClient) Generate(ctx context.Context, req *costwise.Request) (*costwise.Response, error) {
	payload := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, c.fatal(req, fmt.Sprintf("failed to encode request: %v", err), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, c.fatal(req, fmt.Sprintf("failed to build request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &costwise.ProviderError{
			Kind:     costwise.ProviderErrorTransient,
			Provider: c.name,
			Model:    req.Model,
			Message:  "request failed: " + err.Error(),
			Cause:    err,
		}
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.classifyHTTPError(req, httpResp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, &costwise.ProviderError{
			Kind:     costwise.ProviderErrorTransient,
			Provider: c.name,
			Model:    req.Model,
			Message:  "failed to decode response: " + err.Error(),
			Cause:    err,
		}
	}

	if len(parsed.Choices) == 0 {
		return nil, &costwise.ProviderError{
			Kind:     costwise.ProviderErrorTransient,
			Provider: c.name,
			Model:    req.Model,
			Message:  "response contained no choices",
		}
	}

	return &costwise.Response{
		RequestID:    req.ID,
		Provider:     c.name,
		Model:        req.Model,
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage: costwise.TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// classifyHTTPError maps upstream status codes onto retry classes. Auth and
// request-shape problems are fatal, 429 carries the server's Retry-After,
// everything at or above 500 is worth retrying.
func (c *OpenAICompatClient) classifyHTTPError(req *costwise.Request, httpResp *http.Response) *costwise.ProviderError {
	message := c.upstreamMessage(httpResp)

	provErr := &costwise.ProviderError{
		Provider: c.name,
		Model:    req.Model,
		Message:  fmt.Sprintf("upstream returned %d: %s", httpResp.StatusCode, message),
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		provErr.Kind = costwise.ProviderErrorRateLimited
		provErr.RetryAfter = parseRetryAfter(httpResp.Header.Get("Retry-After"))
	case httpResp.StatusCode == http.StatusUnauthorized,
		httpResp.StatusCode == http.StatusForbidden,
		httpResp.StatusCode == http.StatusNotFound,
		httpResp.StatusCode == http.StatusBadRequest:
		provErr.Kind = costwise.ProviderErrorFatal
	case httpResp.StatusCode >= 500:
		provErr.Kind = costwise.ProviderErrorTransient
	default:
		provErr.Kind = costwise.ProviderErrorFatal
	}

	return provErr
}

func (c *OpenAICompatClient) upstreamMessage(httpResp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
	if err != nil {
		return httpResp.Status
	}

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return httpResp.Status
}

func (c *OpenAICompatClient) fatal(req *costwise.Request, message string, cause error) *costwise.ProviderError {
	return &costwise.ProviderError{
		Kind:     costwise.ProviderErrorFatal,
		Provider: c.name,
		Model:    req.Model,
		Message:  message,
		Cause:    cause,
	}
}

// parseRetryAfter handles both delay-seconds and HTTP-date forms. Zero means
// the header was absent or unparseable and the caller should back off
// normally.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}

var _ costwise.ProviderClient = (*OpenAICompatClient)(nil)
