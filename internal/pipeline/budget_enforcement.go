// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/costwise-ai/costwise/internal/monitoring"
	"github.com/costwise-ai/costwise/internal/services"
	"github.com/shopspring/decimal"
)

// DefaultThresholds are the percentages a threshold event fires at
var DefaultThresholds = []int{80, 95, 100}

// charsPerToken is the rough estimation ratio used pre-call, before the
// provider reports real usage
const charsPerToken = 4

// defaultOutputEstimate is assumed when the request does not cap max tokens
const defaultOutputEstimate = 1000

// BudgetEnforcementStage reserves each request's estimated cost against its
// budgets before the provider call, so concurrent requests cannot both be
// admitted against headroom only one of them could satisfy, and emits
// threshold events after actual spend is recorded. Threshold de-duplication
// state resets at period rollover only; a manual limit change does not re-arm
// already-fired thresholds within the running period.
type BudgetEnforcementStage struct {
	ledger     *services.Ledger
	engine     *services.CostEngine
	notifier   costwise.ThresholdNotifier
	thresholds []int
	logger     *slog.Logger
	metrics    *monitoring.SpendMetrics

	mu      sync.Mutex
	emitted map[string]*firedThresholds
}

// firedThresholds is the de-dup state for one budget's running period. A new
// period replaces it wholesale, so stale period keys never accumulate.
type firedThresholds struct {
	periodStart int64
	percents    map[int]struct{}
}

// BudgetEnforcementOption configures BudgetEnforcementStage behavior
type BudgetEnforcementOption func(*BudgetEnforcementStage)

// WithEnforcementLogger sets the logger for the stage
func WithEnforcementLogger(logger *slog.Logger) BudgetEnforcementOption {
	return func(s *BudgetEnforcementStage) {
		s.logger = logger
	}
}

// WithThresholds overrides the threshold percentages
func WithThresholds(percents []int) BudgetEnforcementOption {
	return func(s *BudgetEnforcementStage) {
		s.thresholds = percents
	}
}

// WithEnforcementMetrics sets the metrics bundle for the stage
func WithEnforcementMetrics(metrics *monitoring.SpendMetrics) BudgetEnforcementOption {
	return func(s *BudgetEnforcementStage) {
		s.metrics = metrics
	}
}

// NewBudgetEnforcementStage creates the stage. The notifier may be nil, in
// which case threshold events are only logged.
func NewBudgetEnforcementStage(
	ledger *services.Ledger,
	engine *services.CostEngine,
	notifier costwise.ThresholdNotifier,
	options ...BudgetEnforcementOption,
) *BudgetEnforcementStage {
	s := &BudgetEnforcementStage{
		ledger:     ledger,
		engine:     engine,
		notifier:   notifier,
		thresholds: DefaultThresholds,
		logger:     slog.Default(),
		emitted:    make(map[string]*firedThresholds),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

func (s *BudgetEnforcementStage) Name() string {
	return "budget_enforcement"
}

// BeforeCall estimates the request's cost and reserves it against every
// attribution scope, rejecting when a hard limit would be exceeded. The
// reservation counts as spend until the cost tracking stage settles it to the
// actual cost, so in-flight requests occupy headroom.
func (s *BudgetEnforcementStage) BeforeCall(ctx context.Context, req *costwise.Request) error {
	estimate := s.estimateCost(ctx, req)

	for _, scope := range req.Attribution.Scopes() {
		decision, err := s.ledger.Reserve(ctx, req.ID, scope, estimate)
		if err != nil {
			// Admission stays cheap: a ledger read failure is logged, not
			// turned into a request failure
			s.logger.Warn("Budget check failed, admitting request",
				"scope", scope.Key(),
				"requestID", req.ID,
				"error", err)
			continue
		}

		if decision.Exceeded {
			// Undo reservations already made for earlier scopes
			s.ledger.Release(ctx, req.ID)
			s.logger.Info("Request rejected by budget enforcement",
				"scope", scope.Key(),
				"requestID", req.ID,
				"limit", decision.Status.Limit.String(),
				"spend", decision.Status.Spend.String(),
				"estimated", estimate.String())
			if s.metrics != nil {
				s.metrics.RecordBudgetRejection(ctx, string(scope.Type))
			}
			return &costwise.BudgetExceededError{
				Scope:     scope,
				Limit:     decision.Status.Limit,
				Spend:     decision.Status.Spend,
				Estimated: estimate,
			}
		}
	}

	return nil
}

// AfterCall re-checks the ledger once actual cost has been recorded and emits
// threshold events for newly crossed percentages. The stage runs after cost
// tracking in post-call order, so any reservation still outstanding here was
// never settled and is returned to its budgets first.
func (s *BudgetEnforcementStage) AfterCall(ctx context.Context, req *costwise.Request, resp *costwise.Response) error {
	s.ledger.Release(ctx, req.ID)

	for _, scope := range req.Attribution.Scopes() {
		statuses, err := s.ledger.Statuses(ctx, scope)
		if err != nil {
			return fmt.Errorf("failed to read budget statuses for %s: %w", scope.Key(), err)
		}

		for _, status := range statuses {
			if status.Limit.IsZero() || status.Period == costwise.PeriodPerRequest || status.Period == costwise.PeriodUnbounded {
				continue
			}
			s.emitCrossedThresholds(ctx, status)
		}
	}
	return nil
}

// emitCrossedThresholds fires each crossed threshold exactly once per budget
// period
func (s *BudgetEnforcementStage) emitCrossedThresholds(ctx context.Context, status services.BudgetStatus) {
	percent := status.PercentUsed()

	for _, threshold := range s.thresholds {
		if percent < threshold {
			continue
		}

		s.mu.Lock()
		fired := s.emitted[status.BudgetID]
		if fired == nil || fired.periodStart != status.PeriodStart.Unix() {
			fired = &firedThresholds{
				periodStart: status.PeriodStart.Unix(),
				percents:    make(map[int]struct{}),
			}
			s.emitted[status.BudgetID] = fired
		}
		_, seen := fired.percents[threshold]
		if !seen {
			fired.percents[threshold] = struct{}{}
		}
		s.mu.Unlock()
		if seen {
			continue
		}

		severity := costwise.SeverityWarning
		if threshold >= 100 {
			severity = costwise.SeverityCritical
		}

		event := costwise.ThresholdEvent{
			Scope:      status.Scope,
			Percent:    threshold,
			Spend:      status.Spend,
			Limit:      status.Limit,
			Severity:   severity,
			OccurredAt: time.Now(),
		}

		s.logger.Info("Budget threshold crossed",
			"scope", status.Scope.Key(),
			"percent", threshold,
			"spend", status.Spend.String(),
			"limit", status.Limit.String(),
			"severity", severity)

		if s.metrics != nil {
			s.metrics.RecordThresholdEvent(ctx, string(status.Scope.Type), threshold)
		}
		if s.notifier != nil {
			s.notifier.Notify(event)
		}
	}
}

// estimateCost prices the pending request from its message payload and token
// cap. The estimate reuses the cost engine, so it reflects whatever pricing
// tier would bill the real call.
func (s *BudgetEnforcementStage) estimateCost(ctx context.Context, req *costwise.Request) decimal.Decimal {
	inputEstimate := 0
	for _, msg := range req.Messages {
		inputEstimate += len(msg.Content) / charsPerToken
	}

	outputEstimate := defaultOutputEstimate
	if req.Options.MaxTokens != nil {
		outputEstimate = *req.Options.MaxTokens
	}

	breakdown, err := s.engine.Calculate(ctx, req.Provider, req.Model, inputEstimate, outputEstimate)
	if err != nil {
		s.logger.Warn("Cost estimation failed, assuming zero",
			"provider", req.Provider,
			"model", req.Model,
			"error", err)
		return decimal.Zero
	}

	return breakdown.TotalCost
}
