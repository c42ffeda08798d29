// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/costwise-ai/costwise/internal/monitoring"
	"github.com/costwise-ai/costwise/internal/services"
	"github.com/google/uuid"
)

// CostTrackingStage attaches a cost breakdown to every successful response,
// records the spend against the request's attribution scopes and appends a
// usage event to the usage log. Persistence happens on a background worker so
// the response path never waits on the usage store.
type CostTrackingStage struct {
	engine    *services.CostEngine
	ledger    *services.Ledger
	usageRepo costwise.UsageRepository
	logger    *slog.Logger
	metrics   *monitoring.SpendMetrics
	eventsCh  chan *costwise.UsageEvent
	done      chan struct{}
}

// CostTrackingOption configures CostTrackingStage behavior
type CostTrackingOption func(*CostTrackingStage)

// WithTrackingLogger sets the logger for the stage
func WithTrackingLogger(logger *slog.Logger) CostTrackingOption {
	return func(s *CostTrackingStage) {
		s.logger = logger
	}
}

// WithTrackingMetrics sets the metrics bundle for the stage
func WithTrackingMetrics(metrics *monitoring.SpendMetrics) CostTrackingOption {
	return func(s *CostTrackingStage) {
		s.metrics = metrics
	}
}

// WithEventBuffer overrides the usage event queue capacity
func WithEventBuffer(size int) CostTrackingOption {
	return func(s *CostTrackingStage) {
		s.eventsCh = make(chan *costwise.UsageEvent, size)
	}
}

// NewCostTrackingStage creates the stage and starts its background event
// writer. Call Shutdown to drain the queue before exiting.
func NewCostTrackingStage(
	engine *services.CostEngine,
	ledger *services.Ledger,
	usageRepo costwise.UsageRepository,
	options ...CostTrackingOption,
) *CostTrackingStage {
	s := &CostTrackingStage{
		engine:    engine,
		ledger:    ledger,
		usageRepo: usageRepo,
		logger:    slog.Default(),
		eventsCh:  make(chan *costwise.UsageEvent, 1000),
		done:      make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	go s.processEvents()

	return s
}

func (s *CostTrackingStage) Name() string {
	return "cost_tracking"
}

// AfterCall computes the response's cost, attaches it, and records the spend.
// A cost calculation failure never fails the request: the response is
// returned with an error-source zero breakdown and the usage event records
// the degradation.
func (s *CostTrackingStage) AfterCall(ctx context.Context, req *costwise.Request, resp *costwise.Response) error {
	breakdown, err := s.engine.Calculate(ctx, req.Provider, req.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if err != nil {
		s.logger.Error("Cost calculation failed, recording zero cost",
			"requestID", req.ID,
			"provider", req.Provider,
			"model", req.Model,
			"error", err)
		breakdown = &costwise.CostBreakdown{
			Currency:   "USD",
			Source:     costwise.PriceSourceError,
			ComputedAt: time.Now(),
		}
	}

	resp.Cost = breakdown

	// Settling replaces the enforcement stage's pre-call reservation with the
	// actual cost; with no reservation it records the full amount
	for _, scope := range req.Attribution.Scopes() {
		if _, err := s.ledger.Settle(ctx, req.ID, scope, breakdown.TotalCost); err != nil {
			s.logger.Error("Failed to record spend",
				"scope", scope.Key(),
				"requestID", req.ID,
				"amount", breakdown.TotalCost.String(),
				"error", err)
		}
	}

	s.enqueue(s.successEvent(req, resp, breakdown))

	return nil
}

// RecordFailure appends a usage event for a request that never produced a
// response and returns any budget reservation the request still holds. Token
// and cost fields stay unset.
func (s *CostTrackingStage) RecordFailure(req *costwise.Request, stage string, cause error, duration time.Duration) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.ledger.Release(releaseCtx, req.ID)
	cancel()

	errType := "unknown"
	errMsg := ""
	var provErr *costwise.ProviderError
	if errors.As(cause, &provErr) {
		errType = string(provErr.Kind)
		errMsg = provErr.Message
	} else if cause != nil {
		errMsg = cause.Error()
	}

	durationMs := int(duration.Milliseconds())
	event := &costwise.UsageEvent{
		ID:             uuid.New().String(),
		RequestID:      req.ID,
		UserID:         req.Attribution.UserID,
		ProjectID:      req.Attribution.ProjectID,
		OrganizationID: req.Attribution.OrganizationID,
		Provider:       req.Provider,
		Model:          req.Model,
		Status:         "failed",
		FailureStage:   &stage,
		ErrorType:      &errType,
		CostSource:     string(costwise.PriceSourceUnknown),
		DurationMs:     &durationMs,
		Timestamp:      time.Now(),
	}
	if errMsg != "" {
		event.ErrorMessage = &errMsg
	}

	s.enqueue(event)
}

func (s *CostTrackingStage) successEvent(req *costwise.Request, resp *costwise.Response, breakdown *costwise.CostBreakdown) *costwise.UsageEvent {
	inputTokens := resp.Usage.InputTokens
	outputTokens := resp.Usage.OutputTokens
	inputCost := breakdown.InputCost.String()
	outputCost := breakdown.OutputCost.String()
	totalCost := breakdown.TotalCost.String()

	return &costwise.UsageEvent{
		ID:             uuid.New().String(),
		RequestID:      req.ID,
		UserID:         req.Attribution.UserID,
		ProjectID:      req.Attribution.ProjectID,
		OrganizationID: req.Attribution.OrganizationID,
		Provider:       req.Provider,
		Model:          req.Model,
		InputTokens:    &inputTokens,
		OutputTokens:   &outputTokens,
		Status:         "success",
		CostSource:     string(breakdown.Source),
		InputCost:      &inputCost,
		OutputCost:     &outputCost,
		TotalCost:      &totalCost,
		Currency:       breakdown.Currency,
		Timestamp:      time.Now(),
	}
}

// enqueue hands an event to the background writer without blocking. When the
// queue is full the event is dropped and counted.
func (s *CostTrackingStage) enqueue(event *costwise.UsageEvent) {
	select {
	case s.eventsCh <- event:
	default:
		s.logger.Warn("Usage event queue full, dropping event", "requestID", event.RequestID)
		if s.metrics != nil {
			s.metrics.RecordUsageEventDropped(context.Background())
		}
	}
}

// processEvents runs in a background goroutine to persist usage events
func (s *CostTrackingStage) processEvents() {
	for {
		select {
		case event := <-s.eventsCh:
			s.persist(event)
		case <-s.done:
			for {
				select {
				case event := <-s.eventsCh:
					s.persist(event)
				default:
					return
				}
			}
		}
	}
}

func (s *CostTrackingStage) persist(event *costwise.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.usageRepo.CreateUsageEvent(ctx, event); err != nil {
		s.logger.Error("Failed to persist usage event",
			"error", err,
			"requestID", event.RequestID,
			"userID", event.UserID)
		return
	}

	s.logger.Debug("Usage event persisted",
		"requestID", event.RequestID,
		"status", event.Status,
		"costSource", event.CostSource)
}

// Shutdown stops the background writer after draining queued events
func (s *CostTrackingStage) Shutdown() {
	close(s.done)
}
