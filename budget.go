// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package costwise

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ScopeType is the attribution unit spend is tracked against
type ScopeType string

const (
	ScopeUser         ScopeType = "user"
	ScopeProject      ScopeType = "project"
	ScopeOrganization ScopeType = "organization"
)

// Scope identifies one budget attribution unit
type Scope struct {
	Type ScopeType `json:"type"`
	ID   string    `json:"id"`
}

// Key returns a stable string form usable as a map key
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s", s.Type, s.ID)
}

// BudgetPeriod is the window over which spend accumulates
type BudgetPeriod string

const (
	PeriodDaily      BudgetPeriod = "daily"
	PeriodMonthly    BudgetPeriod = "monthly"
	PeriodPerRequest BudgetPeriod = "per-request"
	PeriodUnbounded  BudgetPeriod = "unbounded"
)

// NextRollover returns the end of the period window that started at start.
// Unbounded and per-request periods never roll over.
func (p BudgetPeriod) NextRollover(start time.Time) (time.Time, bool) {
	switch p {
	case PeriodDaily:
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		return day.AddDate(0, 0, 1), true
	case PeriodMonthly:
		month := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
		return month.AddDate(0, 1, 0), true
	default:
		return time.Time{}, false
	}
}

// Budget is one configured spending limit for a scope. CurrentSpend is
// mutated only by the ledger's atomic increment and by period rollover.
type Budget struct {
	ID           string          `json:"id"`
	Scope        Scope           `json:"scope"`
	Limit        decimal.Decimal `json:"limit"`
	Period       BudgetPeriod    `json:"period"`
	CurrentSpend decimal.Decimal `json:"currentSpend"`
	PeriodStart  time.Time       `json:"periodStart"`
	Active       bool            `json:"active"`
}

// ThresholdSeverity grades how close to the limit a threshold event is
type ThresholdSeverity string

const (
	SeverityWarning  ThresholdSeverity = "warning"
	SeverityCritical ThresholdSeverity = "critical"
)

// ThresholdEvent is emitted when accumulated spend crosses a configured
// percentage of a budget limit. It is not persisted by this core.
type ThresholdEvent struct {
	Scope      Scope             `json:"scope"`
	Percent    int               `json:"percent"`
	Spend      decimal.Decimal   `json:"spend"`
	Limit      decimal.Decimal   `json:"limit"`
	Severity   ThresholdSeverity `json:"severity"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// ThresholdNotifier is the fire-and-forget notification boundary.
// Implementations must never block the pipeline.
type ThresholdNotifier interface {
	Notify(event ThresholdEvent)
}

// BudgetRepository defines persistence operations for budgets. AddSpend must
// be atomic with respect to concurrent callers touching the same budget.
type BudgetRepository interface {
	// GetBudget retrieves a budget by ID
	GetBudget(ctx context.Context, id string) (*Budget, error)

	// ListActiveBudgetsForScope retrieves all active budgets for a scope
	ListActiveBudgetsForScope(ctx context.Context, scope Scope) ([]*Budget, error)

	// AddSpend atomically increments a budget's accumulated spend and
	// returns the new total
	AddSpend(ctx context.Context, budgetID string, amount decimal.Decimal) (decimal.Decimal, error)

	// ResetPeriod zeroes accumulated spend and starts a new period window
	ResetPeriod(ctx context.Context, budgetID string, periodStart time.Time) error

	// ListExpiredBudgets retrieves active periodic budgets whose window
	// ended before asOf
	ListExpiredBudgets(ctx context.Context, asOf time.Time) ([]*Budget, error)
}
