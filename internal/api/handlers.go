// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/costwise-ai/costwise"
)

type completionRequest struct {
	Provider       string             `json:"provider"`
	Model          string             `json:"model"`
	Messages       []costwise.Message `json:"messages"`
	MaxTokens      *int               `json:"maxTokens,omitempty"`
	Temperature    *float64           `json:"temperature,omitempty"`
	TimeoutSeconds int                `json:"timeoutSeconds,omitempty"`
	UserID         string             `json:"userId"`
	ProjectID      string             `json:"projectId,omitempty"`
	OrganizationID string             `json:"organizationId,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var body completionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}

	// Provider may be omitted: the dispatcher routes known models to their
	// provider
	if body.Model == "" {
		s.writeError(w, http.StatusBadRequest, "model is required", "")
		return
	}
	if len(body.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages must not be empty", "")
		return
	}

	req := &costwise.Request{
		Provider: body.Provider,
		Model:    body.Model,
		Messages: body.Messages,
		Options: costwise.RequestOptions{
			MaxTokens:   body.MaxTokens,
			Temperature: body.Temperature,
			Timeout:     time.Duration(body.TimeoutSeconds) * time.Second,
		},
		Attribution: costwise.Attribution{
			UserID:         body.UserID,
			ProjectID:      body.ProjectID,
			OrganizationID: body.OrganizationID,
		},
	}

	resp, err := s.options.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// writeDispatchError maps pipeline and provider failures onto HTTP statuses
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	var exceeded *costwise.BudgetExceededError
	if errors.As(err, &exceeded) {
		s.writeError(w, http.StatusPaymentRequired, exceeded.Error(), "budget_exceeded")
		return
	}

	var provErr *costwise.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Kind {
		case costwise.ProviderErrorRateLimited:
			if provErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(provErr.RetryAfter.Seconds())))
			}
			s.writeError(w, http.StatusTooManyRequests, provErr.Error(), string(provErr.Kind))
		case costwise.ProviderErrorFatal:
			s.writeError(w, http.StatusBadGateway, provErr.Error(), string(provErr.Kind))
		default:
			s.writeError(w, http.StatusBadGateway, provErr.Error(), string(provErr.Kind))
		}
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusGatewayTimeout, "request timed out", "")
		return
	}

	s.writeError(w, http.StatusInternalServerError, err.Error(), "")
}

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	limit, offset := parseLimitOffset(r)

	events, err := s.options.UsageRepo.ListUsageEventsByUser(r.Context(), userID, limit, offset)
	if err != nil {
		s.options.Logger.Error("Failed to list usage events", "error", err, "userID", userID)
		s.writeError(w, http.StatusInternalServerError, "failed to list usage events", "")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	scope := costwise.Scope{
		Type: costwise.ScopeType(r.PathValue("scopeType")),
		ID:   r.PathValue("scopeID"),
	}

	switch scope.Type {
	case costwise.ScopeUser, costwise.ScopeProject, costwise.ScopeOrganization:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown scope type", "")
		return
	}

	budgets, err := s.options.BudgetRepo.ListActiveBudgetsForScope(r.Context(), scope)
	if err != nil {
		s.options.Logger.Error("Failed to list budgets", "error", err, "scope", scope.Key())
		s.writeError(w, http.StatusInternalServerError, "failed to list budgets", "")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"budgets": budgets})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.options.Logger.Error("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, kind string) {
	s.writeJSON(w, status, errorBody{Error: message, Kind: kind})
}
