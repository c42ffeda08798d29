// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const budgetColumns = `id, scope_type, scope_id, limit_amount::text, period,
			current_spend::text, period_start, active`

// GetBudget retrieves a budget by ID
func (r *BudgetRepository) GetBudget(ctx context.Context, id string) (*costwise.Budget, error) {
	query := `
		SELECT ` + budgetColumns + `
		FROM budgets
		WHERE id = $1`

	row := r.options.Db.QueryRow(ctx, query, id)

	budget, err := scanBudget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, costwise.ErrNotFound
	}
	if err != nil {
		r.options.Logger.Error("Failed to get budget", "error", err, "id", id)
		return nil, err
	}
	return budget, nil
}

// ListActiveBudgetsForScope retrieves all active budgets for a scope
func (r *BudgetRepository) ListActiveBudgetsForScope(ctx context.Context, scope costwise.Scope) ([]*costwise.Budget, error) {
	query := `
		SELECT ` + budgetColumns + `
		FROM budgets
		WHERE scope_type = $1 AND scope_id = $2 AND active
		ORDER BY id`

	rows, err := r.options.Db.Query(ctx, query, string(scope.Type), scope.ID)
	if err != nil {
		r.options.Logger.Error("Failed to list budgets for scope", "error", err, "scope", scope.Key())
		return nil, err
	}
	defer rows.Close()

	var budgets []*costwise.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan budget row", "error", err)
			return nil, err
		}
		budgets = append(budgets, budget)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating budget rows", "error", err)
		return nil, err
	}

	return budgets, nil
}

// AddSpend atomically increments a budget's accumulated spend and returns the
// new total. The increment runs inside the database so concurrent writers
// serialize on the row.
func (r *BudgetRepository) AddSpend(ctx context.Context, budgetID string, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE budgets
		SET current_spend = current_spend + $2::numeric
		WHERE id = $1
		RETURNING current_spend::text`

	var newSpend string
	err := r.options.Db.QueryRow(ctx, query, budgetID, amount.String()).Scan(&newSpend)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, costwise.ErrNotFound
	}
	if err != nil {
		r.options.Logger.Error("Failed to add spend", "error", err, "budgetID", budgetID)
		return decimal.Zero, err
	}

	total, err := decimal.NewFromString(newSpend)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid spend total %q: %w", newSpend, err)
	}
	return total, nil
}

// ResetPeriod zeroes accumulated spend and starts a new period window
func (r *BudgetRepository) ResetPeriod(ctx context.Context, budgetID string, periodStart time.Time) error {
	query := `
		UPDATE budgets
		SET current_spend = 0, period_start = $2
		WHERE id = $1`

	result, err := r.options.Db.Exec(ctx, query, budgetID, periodStart)
	if err != nil {
		r.options.Logger.Error("Failed to reset budget period", "error", err, "budgetID", budgetID)
		return err
	}

	if result.RowsAffected() == 0 {
		return costwise.ErrNotFound
	}
	return nil
}

// ListExpiredBudgets retrieves active periodic budgets whose window ended
// before asOf. Per-request and unbounded budgets never expire.
func (r *BudgetRepository) ListExpiredBudgets(ctx context.Context, asOf time.Time) ([]*costwise.Budget, error) {
	query := `
		SELECT ` + budgetColumns + `
		FROM budgets
		WHERE active
		  AND ((period = 'daily' AND period_start < date_trunc('day', $1::timestamptz))
		    OR (period = 'monthly' AND period_start < date_trunc('month', $1::timestamptz)))
		ORDER BY id`

	rows, err := r.options.Db.Query(ctx, query, asOf)
	if err != nil {
		r.options.Logger.Error("Failed to list expired budgets", "error", err)
		return nil, err
	}
	defer rows.Close()

	var budgets []*costwise.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan budget row", "error", err)
			return nil, err
		}
		budgets = append(budgets, budget)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating budget rows", "error", err)
		return nil, err
	}

	return budgets, nil
}

// CreateBudget stores a new budget
func (r *BudgetRepository) CreateBudget(ctx context.Context, budget *costwise.Budget) error {
	query := `
		INSERT INTO budgets (
			id, scope_type, scope_id, limit_amount, period,
			current_spend, period_start, active
		)
		VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, $7, $8)`

	_, err := r.options.Db.Exec(ctx, query,
		budget.ID,
		string(budget.Scope.Type),
		budget.Scope.ID,
		budget.Limit.String(),
		string(budget.Period),
		budget.CurrentSpend.String(),
		budget.PeriodStart,
		budget.Active,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return costwise.ErrDuplicateEntry
		}
		r.options.Logger.Error("Failed to create budget", "error", err)
		return err
	}
	return nil
}

func scanBudget(row pgx.Row) (*costwise.Budget, error) {
	var budget costwise.Budget
	var scopeType, limit, spend, period string

	err := row.Scan(
		&budget.ID,
		&scopeType,
		&budget.Scope.ID,
		&limit,
		&period,
		&spend,
		&budget.PeriodStart,
		&budget.Active,
	)
	if err != nil {
		return nil, err
	}

	budget.Scope.Type = costwise.ScopeType(scopeType)
	budget.Period = costwise.BudgetPeriod(period)

	budget.Limit, err = decimal.NewFromString(limit)
	if err != nil {
		return nil, fmt.Errorf("invalid budget limit %q: %w", limit, err)
	}
	budget.CurrentSpend, err = decimal.NewFromString(spend)
	if err != nil {
		return nil, fmt.Errorf("invalid budget spend %q: %w", spend, err)
	}

	return &budget, nil
}
