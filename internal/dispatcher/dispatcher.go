// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package dispatcher orchestrates a request's full lifecycle: pre-call
// stages, the retried provider call, and post-call stages. It sits above the
// pipeline and the provider clients and is the only package that knows about
// both.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/costwise-ai/costwise/internal/monitoring"
	"github.com/costwise-ai/costwise/internal/pipeline"
	"github.com/costwise-ai/costwise/internal/retry"
	"github.com/google/uuid"
)

// FailureRecorder receives requests that ended without a response. The cost
// tracking stage implements it.
type FailureRecorder interface {
	RecordFailure(req *costwise.Request, stage string, cause error, duration time.Duration)
}

// ModelResolver maps a model identifier to the provider serving it. The
// model router implements it.
type ModelResolver interface {
	Resolve(modelID string) (providerID, canonicalModelID string, err error)
}

// Dispatcher routes requests through the pipeline and to the provider client
// registered for the request's provider
type Dispatcher struct {
	pipeline *pipeline.Pipeline
	clients  map[string]costwise.ProviderClient
	retrier  *retry.Executor
	resolver ModelResolver
	failures FailureRecorder
	logger   *slog.Logger
	metrics  *monitoring.SpendMetrics
}

// Option configures Dispatcher behavior
type Option func(*Dispatcher)

// WithLogger sets the logger for the dispatcher
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics bundle for the dispatcher
func WithMetrics(metrics *monitoring.SpendMetrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithModelResolver sets the resolver consulted when a request names a model
// but no provider
func WithModelResolver(resolver ModelResolver) Option {
	return func(d *Dispatcher) {
		d.resolver = resolver
	}
}

// WithFailureRecorder sets the sink for failed-request usage events
func WithFailureRecorder(failures FailureRecorder) Option {
	return func(d *Dispatcher) {
		d.failures = failures
	}
}

// New creates a dispatcher over the given pipeline, provider clients and
// retry executor
func New(p *pipeline.Pipeline, clients map[string]costwise.ProviderClient, retrier *retry.Executor, options ...Option) *Dispatcher {
	d := &Dispatcher{
		pipeline: p,
		clients:  clients,
		retrier:  retrier,
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Dispatch runs one request end to end. Pre-call rejections and provider
// failures are returned to the caller; post-call stage failures are absorbed
// so a produced response always reaches the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, req *costwise.Request) (*costwise.Response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	started := time.Now()

	// Resolution happens before the pre-call stages so budget estimation
	// prices against the provider that will actually serve the request
	if req.Provider == "" && d.resolver != nil {
		provider, model, err := d.resolver.Resolve(req.Model)
		if err != nil {
			routeErr := &costwise.ProviderError{
				Kind:     costwise.ProviderErrorFatal,
				Model:    req.Model,
				Message:  fmt.Sprintf("cannot route model %q: %v", req.Model, err),
				Attempts: 0,
			}
			d.recordFailure(req, "routing", routeErr, time.Since(started))
			return nil, routeErr
		}
		req.Provider = provider
		req.Model = model
	}

	if d.metrics != nil {
		d.metrics.RecordRequest(ctx, req.Provider, req.Model)
	}

	if err := d.pipeline.RunPreCall(ctx, req); err != nil {
		d.recordFailure(req, "pre_call", err, time.Since(started))
		return nil, err
	}

	client, ok := d.clients[req.Provider]
	if !ok {
		err := &costwise.ProviderError{
			Kind:     costwise.ProviderErrorFatal,
			Provider: req.Provider,
			Model:    req.Model,
			Message:  fmt.Sprintf("no client registered for provider %q", req.Provider),
			Attempts: 0,
		}
		d.recordFailure(req, "routing", err, time.Since(started))
		return nil, err
	}

	// The per-request timeout bounds each attempt, not the retry loop: a
	// timed-out attempt stays a transient failure eligible for retry while
	// the caller's own cancellation still ends the loop
	callStart := time.Now()
	attempts := 0
	resp, err := d.retrier.Do(ctx, func(ctx context.Context) (*costwise.Response, error) {
		attempts++
		attemptCtx := ctx
		if req.Options.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, req.Options.Timeout)
			defer cancel()
		}
		return client.Generate(attemptCtx, req)
	})
	callDuration := time.Since(callStart)

	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordProviderCall(ctx, req.Provider, callDuration, attempts, false)
		}
		d.logger.Warn("Provider call failed",
			"requestID", req.ID,
			"provider", req.Provider,
			"model", req.Model,
			"attempts", attempts,
			"error", err)
		d.recordFailure(req, "provider_call", err, time.Since(started))
		return nil, err
	}

	if d.metrics != nil {
		d.metrics.RecordProviderCall(ctx, req.Provider, callDuration, attempts, true)
	}

	resp.RequestID = req.ID

	// Post-call runs on the parent context: a per-call timeout bounds the
	// provider invocation, not cost tracking
	d.pipeline.RunPostCall(ctx, req, resp)

	return resp, nil
}

// Providers returns the provider names with a registered client
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.clients))
	for name := range d.clients {
		names = append(names, name)
	}
	return names
}

func (d *Dispatcher) recordFailure(req *costwise.Request, stage string, cause error, duration time.Duration) {
	if d.failures == nil {
		return
	}
	d.failures.RecordFailure(req, stage, cause, duration)
}
