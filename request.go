// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package costwise

import (
	"context"
	"time"
)

// Message is a single entry in a request's message payload
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestOptions carries per-call generation options
type RequestOptions struct {
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"maxTokens,omitempty"`
	Timeout     time.Duration `json:"-"` // per-call timeout for the provider invocation
}

// Attribution identifies the scopes a request's spend rolls up into.
// Empty fields mean the request is not attributed to that scope type.
type Attribution struct {
	UserID         string `json:"userId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// Scopes returns the non-empty attribution scopes in a stable order
func (a Attribution) Scopes() []Scope {
	scopes := make([]Scope, 0, 3)
	if a.UserID != "" {
		scopes = append(scopes, Scope{Type: ScopeUser, ID: a.UserID})
	}
	if a.ProjectID != "" {
		scopes = append(scopes, Scope{Type: ScopeProject, ID: a.ProjectID})
	}
	if a.OrganizationID != "" {
		scopes = append(scopes, Scope{Type: ScopeOrganization, ID: a.OrganizationID})
	}
	return scopes
}

// Request is the normalized provider request. The dispatcher assigns the ID
// and resolves the provider before any stage runs; after that the request is
// read-only for the rest of its lifecycle.
type Request struct {
	ID          string         `json:"id"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Options     RequestOptions `json:"options"`
	Attribution Attribution    `json:"attribution"`
}

// TokenUsage holds the token counts reported by a provider.
// A usage with both counts zero is valid (e.g. a failed call).
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Total returns input plus output tokens
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the normalized provider response. Content and usage are set by
// the provider call; Cost is attached once by the cost tracking stage.
type Response struct {
	RequestID    string         `json:"requestId"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Content      string         `json:"content"`
	FinishReason string         `json:"finishReason"`
	Usage        TokenUsage     `json:"usage"`
	Cost         *CostBreakdown `json:"cost,omitempty"`
}

// ProviderClient is the boundary to a concrete provider integration. It
// accepts a normalized request and returns a normalized response or a
// *ProviderError classifying the failure.
type ProviderClient interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}
