// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUsageRepo(mock pgxmock.PgxPoolIface) *UsageRepository {
	return &UsageRepository{
		options: &usageRepositoryOptions{
			Db:     mock,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

func usageRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "request_id", "user_id", "project_id", "organization_id",
		"provider", "model", "input_tokens", "output_tokens",
		"status", "failure_stage", "error_type", "error_message",
		"cost_source", "input_cost", "output_cost", "total_cost",
		"currency", "duration_ms", "timestamp",
	})
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestUsageRepository_CreateUsageEvent(t *testing.T) {
	now := time.Now()
	event := &costwise.UsageEvent{
		ID:           "event-1",
		RequestID:    "req-1",
		UserID:       "user-1",
		ProjectID:    "proj-1",
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  intPtr(120),
		OutputTokens: intPtr(45),
		Status:       "success",
		CostSource:   "database",
		InputCost:    strPtr("0.0003"),
		OutputCost:   strPtr("0.00045"),
		TotalCost:    strPtr("0.00075"),
		Currency:     "USD",
		DurationMs:   intPtr(830),
		Timestamp:    now,
	}

	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO usage_events`).
			WithArgs(
				event.ID,
				event.RequestID,
				event.UserID,
				strPtr("proj-1"),
				(*string)(nil),
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
				strPtr("USD"),
				event.DurationMs,
				event.Timestamp,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = testUsageRepo(mock).CreateUsageEvent(context.Background(), event)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO usage_events`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = testUsageRepo(mock).CreateUsageEvent(context.Background(), event)

		assert.ErrorIs(t, err, costwise.ErrDuplicateEntry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsageRepository_GetUsageEvent(t *testing.T) {
	t.Run("success with null attribution fields", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		mock.ExpectQuery(`SELECT (.+) FROM usage_events
		WHERE id = \$1`).
			WithArgs("event-1").
			WillReturnRows(usageRows().AddRow(
				"event-1", "req-1", "user-1", nil, nil,
				"openai", "gpt-4o", intPtr(120), intPtr(45),
				"success", nil, nil, nil,
				"static", strPtr("0.0003"), strPtr("0.00045"), strPtr("0.00075"),
				strPtr("USD"), intPtr(830), now,
			))

		event, err := testUsageRepo(mock).GetUsageEvent(context.Background(), "event-1")

		require.NoError(t, err)
		assert.Equal(t, "event-1", event.ID)
		assert.Empty(t, event.ProjectID)
		assert.Empty(t, event.OrganizationID)
		assert.Equal(t, "static", event.CostSource)
		require.NotNil(t, event.TotalCost)
		assert.Equal(t, "0.00075", *event.TotalCost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT (.+) FROM usage_events`).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = testUsageRepo(mock).GetUsageEvent(context.Background(), "missing")

		assert.ErrorIs(t, err, costwise.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsageRepository_ListUsageEventsByUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM usage_events
		WHERE user_id = \$1
		ORDER BY timestamp DESC
		LIMIT \$2 OFFSET \$3`).
		WithArgs("user-1", 10, 0).
		WillReturnRows(usageRows().
			AddRow("event-2", "req-2", "user-1", nil, nil, "openai", "gpt-4o",
				intPtr(50), intPtr(20), "success", nil, nil, nil,
				"database", strPtr("0.0001"), strPtr("0.0002"), strPtr("0.0003"),
				strPtr("USD"), intPtr(400), now).
			AddRow("event-1", "req-1", "user-1", strPtr("proj-1"), nil, "openai", "gpt-4o",
				nil, nil, "failed", strPtr("provider_call"), strPtr("transient"), strPtr("upstream timeout"),
				"unknown", nil, nil, nil,
				nil, intPtr(30000), now.Add(-time.Minute)))

	events, err := testUsageRepo(mock).ListUsageEventsByUser(context.Background(), "user-1", 10, 0)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "success", events[0].Status)
	assert.Equal(t, "failed", events[1].Status)
	assert.Equal(t, "proj-1", events[1].ProjectID)
	assert.Nil(t, events[1].TotalCost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageRepository_ListUsageEventsByPeriod(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM usage_events
		WHERE user_id = \$1 AND timestamp >= \$2 AND timestamp <= \$3`).
		WithArgs("user-1", start, end).
		WillReturnRows(usageRows().AddRow(
			"event-1", "req-1", "user-1", nil, nil, "openai", "gpt-4o",
			intPtr(10), intPtr(5), "success", nil, nil, nil,
			"database", strPtr("0.0001"), strPtr("0.0001"), strPtr("0.0002"),
			strPtr("USD"), intPtr(300), start.Add(12*time.Hour),
		))

	events, err := testUsageRepo(mock).ListUsageEventsByPeriod(context.Background(), "user-1", start, end)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "event-1", events[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
