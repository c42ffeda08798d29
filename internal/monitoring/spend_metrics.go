// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SpendMetrics bundles the instruments recorded by the request pipeline, the
// cost engine and the budget ledger
type SpendMetrics struct {
	requestsTotal           metric.Int64Counter
	providerCallDuration    metric.Float64Histogram
	providerRetriesTotal    metric.Int64Counter
	costCalculationDuration metric.Float64Histogram
	budgetRejectionsTotal   metric.Int64Counter
	thresholdEventsTotal    metric.Int64Counter
	usageEventsDroppedTotal metric.Int64Counter
}

// NewSpendMetrics creates the spend instruments on the given meter
func NewSpendMetrics(meter metric.Meter) (*SpendMetrics, error) {
	requestsTotal, err := meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total requests dispatched"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests_total counter: %w", err)
	}

	providerCallDuration, err := meter.Float64Histogram(
		"provider_call_duration_seconds",
		metric.WithDescription("Provider call duration including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_call_duration histogram: %w", err)
	}

	providerRetriesTotal, err := meter.Int64Counter(
		"provider_retries_total",
		metric.WithDescription("Provider call attempts beyond the first"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_retries_total counter: %w", err)
	}

	costCalculationDuration, err := meter.Float64Histogram(
		"cost_calculation_duration_seconds",
		metric.WithDescription("Time to resolve a price and compute a breakdown"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost_calculation_duration histogram: %w", err)
	}

	budgetRejectionsTotal, err := meter.Int64Counter(
		"budget_rejections_total",
		metric.WithDescription("Requests rejected pre-call by budget enforcement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create budget_rejections_total counter: %w", err)
	}

	thresholdEventsTotal, err := meter.Int64Counter(
		"budget_threshold_events_total",
		metric.WithDescription("Threshold events emitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create budget_threshold_events_total counter: %w", err)
	}

	usageEventsDroppedTotal, err := meter.Int64Counter(
		"usage_events_dropped_total",
		metric.WithDescription("Usage events dropped because the writer queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_events_dropped_total counter: %w", err)
	}

	return &SpendMetrics{
		requestsTotal:           requestsTotal,
		providerCallDuration:    providerCallDuration,
		providerRetriesTotal:    providerRetriesTotal,
		costCalculationDuration: costCalculationDuration,
		budgetRejectionsTotal:   budgetRejectionsTotal,
		thresholdEventsTotal:    thresholdEventsTotal,
		usageEventsDroppedTotal: usageEventsDroppedTotal,
	}, nil
}

// RecordRequest counts one dispatched request
func (m *SpendMetrics) RecordRequest(ctx context.Context, provider, model string) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	))
}

// RecordProviderCall records the duration of one provider call and any
// retries it needed
func (m *SpendMetrics) RecordProviderCall(ctx context.Context, provider string, duration time.Duration, attempts int, success bool) {
	m.providerCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
	if attempts > 1 {
		m.providerRetriesTotal.Add(ctx, int64(attempts-1), metric.WithAttributes(
			attribute.String("provider", provider),
		))
	}
}

// RecordCostCalculation records one breakdown computation
func (m *SpendMetrics) RecordCostCalculation(ctx context.Context, duration time.Duration, source string) {
	m.costCalculationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("source", source),
	))
}

// RecordBudgetRejection counts one pre-call budget rejection
func (m *SpendMetrics) RecordBudgetRejection(ctx context.Context, scopeType string) {
	m.budgetRejectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope_type", scopeType),
	))
}

// RecordThresholdEvent counts one emitted threshold event
func (m *SpendMetrics) RecordThresholdEvent(ctx context.Context, scopeType string, percent int) {
	m.thresholdEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope_type", scopeType),
		attribute.Int("percent", percent),
	))
}

// RecordUsageEventDropped counts one dropped usage event
func (m *SpendMetrics) RecordUsageEventDropped(ctx context.Context) {
	m.usageEventsDroppedTotal.Add(ctx, 1)
}
