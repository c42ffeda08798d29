// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/jackc/pgx/v5"
)

const usageColumns = `id, request_id, user_id, project_id, organization_id,
			provider, model, input_tokens, output_tokens,
			status, failure_stage, error_type, error_message,
			cost_source, input_cost::text, output_cost::text, total_cost::text,
			currency, duration_ms, timestamp`

// CreateUsageEvent stores a new usage event
func (r *UsageRepository) CreateUsageEvent(ctx context.Context, event *costwise.UsageEvent) error {
	query := `
		INSERT INTO usage_events (
			id, request_id, user_id, project_id, organization_id,
			provider, model, input_tokens, output_tokens,
			status, failure_stage, error_type, error_message,
			cost_source, input_cost, output_cost, total_cost,
			currency, duration_ms, timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15::numeric, $16::numeric, $17::numeric, $18, $19, $20)`

	_, err := r.options.Db.Exec(ctx, query,
		event.ID,
		event.RequestID,
		event.UserID,
		nullableString(event.ProjectID),
		nullableString(event.OrganizationID),
		event.Provider,
		event.Model,
		event.InputTokens,
		event.OutputTokens,
		event.Status,
		event.FailureStage,
		event.ErrorType,
		event.ErrorMessage,
		event.CostSource,
		event.InputCost,
		event.OutputCost,
		event.TotalCost,
		nullableString(event.Currency),
		event.DurationMs,
		event.Timestamp,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return costwise.ErrDuplicateEntry
		}
		r.options.Logger.Error("Failed to create usage event", "error", err)
		return err
	}
	return nil
}

// GetUsageEvent retrieves a usage event by ID
func (r *UsageRepository) GetUsageEvent(ctx context.Context, id string) (*costwise.UsageEvent, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM usage_events
		WHERE id = $1`

	row := r.options.Db.QueryRow(ctx, query, id)

	event, err := scanUsageEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, costwise.ErrNotFound
	}
	if err != nil {
		r.options.Logger.Error("Failed to get usage event", "error", err, "id", id)
		return nil, err
	}
	return event, nil
}

// ListUsageEventsByUser retrieves usage events for a specific user with pagination
func (r *UsageRepository) ListUsageEventsByUser(ctx context.Context, userID string, limit, offset int) ([]*costwise.UsageEvent, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM usage_events
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.options.Db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.options.Logger.Error("Failed to list usage events by user", "error", err, "userID", userID)
		return nil, err
	}
	defer rows.Close()

	return r.collectUsageEvents(rows)
}

// ListUsageEventsByPeriod retrieves usage events for a user within a period
func (r *UsageRepository) ListUsageEventsByPeriod(ctx context.Context, userID string, start, end time.Time) ([]*costwise.UsageEvent, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM usage_events
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC`

	rows, err := r.options.Db.Query(ctx, query, userID, start, end)
	if err != nil {
		r.options.Logger.Error("Failed to list usage events by period", "error", err, "userID", userID)
		return nil, err
	}
	defer rows.Close()

	return r.collectUsageEvents(rows)
}

func (r *UsageRepository) collectUsageEvents(rows pgx.Rows) ([]*costwise.UsageEvent, error) {
	var events []*costwise.UsageEvent
	for rows.Next() {
		event, err := scanUsageEvent(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan usage event row", "error", err)
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating usage event rows", "error", err)
		return nil, err
	}

	return events, nil
}

func scanUsageEvent(row pgx.Row) (*costwise.UsageEvent, error) {
	var event costwise.UsageEvent
	var projectID, organizationID, currency *string

	err := row.Scan(
		&event.ID,
		&event.RequestID,
		&event.UserID,
		&projectID,
		&organizationID,
		&event.Provider,
		&event.Model,
		&event.InputTokens,
		&event.OutputTokens,
		&event.Status,
		&event.FailureStage,
		&event.ErrorType,
		&event.ErrorMessage,
		&event.CostSource,
		&event.InputCost,
		&event.OutputCost,
		&event.TotalCost,
		&currency,
		&event.DurationMs,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if projectID != nil {
		event.ProjectID = *projectID
	}
	if organizationID != nil {
		event.OrganizationID = *organizationID
	}
	if currency != nil {
		event.Currency = *currency
	}

	return &event, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
