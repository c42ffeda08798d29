// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package costwise

import (
	"context"
	"time"
)

// UsageEvent is one immutable record in the append-only usage log
type UsageEvent struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"requestId"`
	UserID         string    `json:"userId"`
	ProjectID      string    `json:"projectId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	InputTokens    *int      `json:"inputTokens,omitempty"`
	OutputTokens   *int      `json:"outputTokens,omitempty"`
	Status         string    `json:"status"`
	FailureStage   *string   `json:"failureStage,omitempty"`
	ErrorType      *string   `json:"errorType,omitempty"`
	ErrorMessage   *string   `json:"errorMessage,omitempty"`
	CostSource     string    `json:"costSource"`
	InputCost      *string   `json:"inputCost,omitempty"`
	OutputCost     *string   `json:"outputCost,omitempty"`
	TotalCost      *string   `json:"totalCost,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	DurationMs     *int      `json:"durationMs,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// UsageRepository defines persistence operations for usage events
type UsageRepository interface {
	// CreateUsageEvent stores a new usage event
	CreateUsageEvent(ctx context.Context, event *UsageEvent) error

	// GetUsageEvent retrieves a usage event by ID
	GetUsageEvent(ctx context.Context, id string) (*UsageEvent, error)

	// ListUsageEventsByUser retrieves usage events for a specific user with pagination
	ListUsageEventsByUser(ctx context.Context, userID string, limit, offset int) ([]*UsageEvent, error)

	// ListUsageEventsByPeriod retrieves usage events for a user within a period
	ListUsageEventsByPeriod(ctx context.Context, userID string, start, end time.Time) ([]*UsageEvent, error)
}
