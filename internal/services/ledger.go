// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/shopspring/decimal"
)

// BudgetStatus is one budget's position after a ledger operation
type BudgetStatus struct {
	BudgetID    string
	Scope       costwise.Scope
	Period      costwise.BudgetPeriod
	PeriodStart time.Time
	Spend       decimal.Decimal
	Limit       decimal.Decimal
}

// PercentUsed returns spend as a truncated integer percentage of the limit
func (s BudgetStatus) PercentUsed() int {
	if s.Limit.IsZero() {
		return 0
	}
	return int(s.Spend.Div(s.Limit).Mul(decimal.NewFromInt(100)).IntPart())
}

// Decision is the outcome of a would-exceed check. When Exceeded is true,
// Status describes the violated budget.
type Decision struct {
	Exceeded bool
	Status   BudgetStatus
}

// Ledger tracks cumulative spend per scope. Check and record operations on
// the same scope are serialized through a per-scope lock on top of the
// repository's transactional increment, so two concurrent requests cannot
// both pass a check only one of them could satisfy.
type Ledger struct {
	budgetRepo costwise.BudgetRepository
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// outstanding pre-call reservations, requestID -> scope -> amount
	resMu        sync.Mutex
	reservations map[string]map[costwise.Scope]decimal.Decimal
}

// LedgerOption configures Ledger behavior
type LedgerOption func(*Ledger)

// WithLedgerLogger sets the logger for the ledger
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithLedgerClock overrides the time source. Intended for tests.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a new Ledger backed by the given repository
func NewLedger(budgetRepo costwise.BudgetRepository, options ...LedgerOption) *Ledger {
	l := &Ledger{
		budgetRepo:   budgetRepo,
		logger:       slog.Default(),
		now:          time.Now,
		locks:        make(map[string]*sync.Mutex),
		reservations: make(map[string]map[costwise.Scope]decimal.Decimal),
	}

	for _, opt := range options {
		opt(l)
	}

	return l
}

// scopeLock returns the mutex serializing operations on one scope
func (l *Ledger) scopeLock(scope costwise.Scope) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := scope.Key()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// CheckWouldExceed reports whether adding amount to the scope's spend would
// exceed any active budget limit. A scope with no budgets never exceeds.
func (l *Ledger) CheckWouldExceed(ctx context.Context, scope costwise.Scope, amount decimal.Decimal) (*Decision, error) {
	lock := l.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	budgets, err := l.activeBudgets(ctx, scope)
	if err != nil {
		return nil, err
	}

	return checkBudgets(budgets, amount), nil
}

// CheckAndRecord performs the would-exceed check and, when it passes, records
// the spend without releasing the scope lock in between. Concurrent callers
// against the same scope therefore cannot both be admitted against headroom
// only one of them could satisfy.
func (l *Ledger) CheckAndRecord(ctx context.Context, scope costwise.Scope, amount decimal.Decimal) (*Decision, []BudgetStatus, error) {
	lock := l.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	budgets, err := l.activeBudgets(ctx, scope)
	if err != nil {
		return nil, nil, err
	}

	decision := checkBudgets(budgets, amount)
	if decision.Exceeded {
		return decision, nil, nil
	}

	statuses, err := l.recordLocked(ctx, scope, budgets, amount)
	if err != nil {
		return nil, nil, err
	}
	return decision, statuses, nil
}

// Reserve admits the request's estimated amount against the scope and holds it
// as spend until Settle or Release. Because the amount is committed under the
// scope lock, a concurrent request sees the reservation and cannot be admitted
// against headroom only one of them could satisfy. A zero estimate is checked
// but not held.
func (l *Ledger) Reserve(ctx context.Context, requestID string, scope costwise.Scope, amount decimal.Decimal) (*Decision, error) {
	if amount.IsZero() {
		return l.CheckWouldExceed(ctx, scope, amount)
	}

	decision, _, err := l.CheckAndRecord(ctx, scope, amount)
	if err != nil || decision == nil || decision.Exceeded {
		return decision, err
	}

	l.resMu.Lock()
	held, ok := l.reservations[requestID]
	if !ok {
		held = make(map[costwise.Scope]decimal.Decimal)
		l.reservations[requestID] = held
	}
	held[scope] = held[scope].Add(amount)
	l.resMu.Unlock()

	return decision, nil
}

// Settle replaces the request's reservation for the scope with the actual
// cost, recording only the difference. With no outstanding reservation the
// full amount is recorded, so callers need not know whether one was made.
func (l *Ledger) Settle(ctx context.Context, requestID string, scope costwise.Scope, actual decimal.Decimal) ([]BudgetStatus, error) {
	delta := actual.Sub(l.takeReservation(requestID, scope))
	if delta.IsZero() {
		return l.Statuses(ctx, scope)
	}
	return l.RecordSpend(ctx, scope, delta)
}

// Release returns every amount still held for the request to its budgets.
// Called when a request ends without a settled response; settled or unknown
// requests are a no-op.
func (l *Ledger) Release(ctx context.Context, requestID string) {
	l.resMu.Lock()
	held := l.reservations[requestID]
	delete(l.reservations, requestID)
	l.resMu.Unlock()

	for scope, amount := range held {
		if amount.IsZero() {
			continue
		}
		if _, err := l.RecordSpend(ctx, scope, amount.Neg()); err != nil {
			l.logger.Error("Failed to release budget reservation",
				"requestID", requestID,
				"scope", scope.Key(),
				"amount", amount.String(),
				"error", err)
		}
	}
}

// takeReservation removes and returns the amount held for a request's scope
func (l *Ledger) takeReservation(requestID string, scope costwise.Scope) decimal.Decimal {
	l.resMu.Lock()
	defer l.resMu.Unlock()

	held, ok := l.reservations[requestID]
	if !ok {
		return decimal.Zero
	}
	amount := held[scope]
	delete(held, scope)
	if len(held) == 0 {
		delete(l.reservations, requestID)
	}
	return amount
}

// checkBudgets evaluates the would-exceed rule against a budget set
func checkBudgets(budgets []*costwise.Budget, amount decimal.Decimal) *Decision {
	for _, budget := range budgets {
		status := statusOf(budget)

		switch budget.Period {
		case costwise.PeriodUnbounded:
			continue
		case costwise.PeriodPerRequest:
			if amount.GreaterThan(budget.Limit) {
				return &Decision{Exceeded: true, Status: status}
			}
		default:
			if budget.CurrentSpend.Add(amount).GreaterThan(budget.Limit) {
				return &Decision{Exceeded: true, Status: status}
			}
		}
	}

	return &Decision{Exceeded: false}
}

// RecordSpend atomically adds amount to every applicable budget for the scope
// and returns the post-increment statuses. Per-request budgets do not
// accumulate.
func (l *Ledger) RecordSpend(ctx context.Context, scope costwise.Scope, amount decimal.Decimal) ([]BudgetStatus, error) {
	lock := l.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	budgets, err := l.activeBudgets(ctx, scope)
	if err != nil {
		return nil, err
	}

	return l.recordLocked(ctx, scope, budgets, amount)
}

// recordLocked increments every applicable budget. Callers must hold the
// scope lock.
func (l *Ledger) recordLocked(ctx context.Context, scope costwise.Scope, budgets []*costwise.Budget, amount decimal.Decimal) ([]BudgetStatus, error) {
	statuses := make([]BudgetStatus, 0, len(budgets))
	for _, budget := range budgets {
		if budget.Period == costwise.PeriodPerRequest {
			continue
		}

		newTotal, err := l.budgetRepo.AddSpend(ctx, budget.ID, amount)
		if err != nil {
			return nil, fmt.Errorf("failed to record spend for budget %s: %w", budget.ID, err)
		}

		status := statusOf(budget)
		status.Spend = newTotal
		statuses = append(statuses, status)

		l.logger.Debug("Recorded spend",
			"scope", scope.Key(),
			"budgetID", budget.ID,
			"amount", amount.String(),
			"newTotal", newTotal.String())
	}

	return statuses, nil
}

// Statuses returns the current position of every active budget for the scope
func (l *Ledger) Statuses(ctx context.Context, scope costwise.Scope) ([]BudgetStatus, error) {
	lock := l.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	budgets, err := l.activeBudgets(ctx, scope)
	if err != nil {
		return nil, err
	}

	statuses := make([]BudgetStatus, 0, len(budgets))
	for _, budget := range budgets {
		statuses = append(statuses, statusOf(budget))
	}
	return statuses, nil
}

// activeBudgets loads the scope's budgets and applies lazy period rollover.
// Callers must hold the scope lock.
func (l *Ledger) activeBudgets(ctx context.Context, scope costwise.Scope) ([]*costwise.Budget, error) {
	budgets, err := l.budgetRepo.ListActiveBudgetsForScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets for %s: %w", scope.Key(), err)
	}

	now := l.now()
	for _, budget := range budgets {
		rollover, ok := budget.Period.NextRollover(budget.PeriodStart)
		if !ok || now.Before(rollover) {
			continue
		}

		periodStart := currentPeriodStart(budget.Period, now)
		if err := l.budgetRepo.ResetPeriod(ctx, budget.ID, periodStart); err != nil {
			return nil, fmt.Errorf("failed to roll over budget %s: %w", budget.ID, err)
		}

		l.logger.Info("Budget period rolled over",
			"budgetID", budget.ID,
			"scope", scope.Key(),
			"period", budget.Period,
			"periodStart", periodStart)

		budget.CurrentSpend = decimal.Zero
		budget.PeriodStart = periodStart
	}

	return budgets, nil
}

// currentPeriodStart returns the boundary the running period began at
func currentPeriodStart(period costwise.BudgetPeriod, now time.Time) time.Time {
	switch period {
	case costwise.PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case costwise.PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return now
	}
}

func statusOf(budget *costwise.Budget) BudgetStatus {
	return BudgetStatus{
		BudgetID:    budget.ID,
		Scope:       budget.Scope,
		Period:      budget.Period,
		PeriodStart: budget.PeriodStart,
		Spend:       budget.CurrentSpend,
		Limit:       budget.Limit,
	}
}
