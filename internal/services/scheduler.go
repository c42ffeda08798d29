// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/costwise-ai/costwise"
)

// Scheduler runs periodic maintenance jobs: rolling over expired budget
// periods so idle scopes do not report stale spend, and flushing the cost
// engine's caches so re-priced models take effect without a restart. Rollover
// also happens lazily on the request path; the sweep covers scopes no request
// has touched since their window ended.
type Scheduler struct {
	logger          *slog.Logger
	budgetRepo      costwise.BudgetRepository
	engine          *CostEngine
	sweepInterval   time.Duration
	refreshInterval time.Duration
	now             func() time.Time
	stopChan        chan struct{}
	doneChan        chan struct{}
}

// SchedulerOption configures Scheduler behavior
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSweepInterval sets how often expired budget periods are swept
func WithSweepInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.sweepInterval = interval
	}
}

// WithRefreshInterval sets how often the cost engine's caches are flushed
func WithRefreshInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.refreshInterval = interval
	}
}

// WithSchedulerClock overrides the time source. Intended for tests.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a new Scheduler instance
func NewScheduler(budgetRepo costwise.BudgetRepository, engine *CostEngine, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger:          slog.Default(),
		budgetRepo:      budgetRepo,
		engine:          engine,
		sweepInterval:   5 * time.Minute,
		refreshInterval: 1 * time.Hour,
		now:             time.Now,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Start begins the scheduler's background operations
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler",
		"sweepInterval", s.sweepInterval,
		"refreshInterval", s.refreshInterval)

	go s.run(ctx)
}

// Stop gracefully shuts down the scheduler
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background scheduler")
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("Background scheduler stopped")
}

// run executes the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	sweepTicker := time.NewTicker(s.sweepInterval)
	refreshTicker := time.NewTicker(s.refreshInterval)

	defer sweepTicker.Stop()
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return

		case <-s.stopChan:
			s.logger.Info("Scheduler stop signal received")
			return

		case <-sweepTicker.C:
			s.runBudgetSweep(ctx)

		case <-refreshTicker.C:
			s.runPriceRefresh()
		}
	}
}

// runBudgetSweep rolls over every active budget whose period window has
// ended. A budget the request path already rolled over no longer matches the
// expired query and is skipped.
func (s *Scheduler) runBudgetSweep(ctx context.Context) {
	start := time.Now()

	now := s.now()
	expired, err := s.budgetRepo.ListExpiredBudgets(ctx, now)
	if err != nil {
		s.logger.Error("Budget sweep failed to list expired budgets", "error", err)
		return
	}

	rolled := 0
	for _, budget := range expired {
		periodStart := currentPeriodStart(budget.Period, now)
		if err := s.budgetRepo.ResetPeriod(ctx, budget.ID, periodStart); err != nil {
			s.logger.Error("Failed to roll over budget",
				"error", err,
				"budgetID", budget.ID,
				"scope", budget.Scope.Key())
			continue
		}
		rolled++

		s.logger.Info("Budget period rolled over",
			"budgetID", budget.ID,
			"scope", budget.Scope.Key(),
			"period", budget.Period,
			"periodStart", periodStart,
			"previousSpend", budget.CurrentSpend.String())
	}

	if rolled > 0 {
		s.logger.Info("Budget sweep completed",
			"rolledOver", rolled,
			"duration", time.Since(start))
	}
}

// runPriceRefresh drops the engine's cached prices and breakdowns so the next
// calculation re-resolves through the fallback chain
func (s *Scheduler) runPriceRefresh() {
	if s.engine == nil {
		return
	}

	s.engine.FlushCaches()
	s.logger.Debug("Flushed cost engine caches")
}
