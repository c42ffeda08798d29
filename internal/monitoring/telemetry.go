// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package monitoring bootstraps OpenTelemetry metrics and bundles the
// instruments the spend pipeline records into.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
}

// Manager owns the meter provider and the spend metrics bundle
type Manager struct {
	meterProvider *sdkmetric.MeterProvider
	spendMetrics  *SpendMetrics
	config        Config
}

// NewManager sets up an OTLP metric exporter and the spend metrics bundle
func NewManager(config Config, logger *slog.Logger) (*Manager, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if config.OTLPEndpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required")
	}

	otlpExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)),
	)
	otel.SetMeterProvider(meterProvider)
	logger.Info("OTLP metrics enabled", "endpoint", config.OTLPEndpoint)

	spendMetrics, err := NewSpendMetrics(meterProvider.Meter("github.com/costwise-ai/costwise/spend"))
	if err != nil {
		return nil, fmt.Errorf("failed to create spend metrics: %w", err)
	}

	return &Manager{
		meterProvider: meterProvider,
		spendMetrics:  spendMetrics,
		config:        config,
	}, nil
}

// SpendMetrics returns the metrics bundle recorded by the pipeline
func (m *Manager) SpendMetrics() *SpendMetrics {
	return m.spendMetrics
}

// Meter returns a named meter from the managed provider
func (m *Manager) Meter(instrumentationName string) metric.Meter {
	return m.meterProvider.Meter(instrumentationName)
}

// Shutdown flushes and stops the meter provider
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.meterProvider.Shutdown(ctx)
}
