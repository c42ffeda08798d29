// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package retry wraps single provider invocations with bounded retries,
// exponential backoff with jitter, and error classification.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/costwise-ai/costwise"
)

// Policy controls how many attempts are made and how long to wait between them
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the configuration most deployments run with
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

// Operation is a single provider invocation
type Operation func(ctx context.Context) (*costwise.Response, error)

// Executor runs operations under a retry policy
type Executor struct {
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// ExecutorOption configures Executor behavior
type ExecutorOption func(*Executor)

// WithLogger sets the logger for the executor
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithoutSleep disables waiting between attempts. Intended for tests.
func WithoutSleep() ExecutorOption {
	return func(e *Executor) {
		e.sleep = func(context.Context, time.Duration) error { return nil }
	}
}

// WithJitterFunc overrides the jitter source. Intended for tests.
func WithJitterFunc(f func() float64) ExecutorOption {
	return func(e *Executor) {
		e.jitter = f
	}
}

// NewExecutor creates a new Executor with the given policy
func NewExecutor(policy Policy, options ...ExecutorOption) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultPolicy.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultPolicy.MaxDelay
	}

	e := &Executor{
		policy: policy,
		logger: slog.Default(),
		sleep:  sleepCtx,
		// jitter factor in [0.5, 1.5)
		jitter: func() float64 { return 0.5 + rand.Float64() },
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// Do runs op until it succeeds, fails fatally, or the attempt budget is
// exhausted. Fatal errors short-circuit with no retries. Rate-limited errors
// wait the provider-supplied duration capped at MaxDelay. Everything else,
// including a per-attempt timeout, backs off exponentially with jitter.
// On exhaustion the last error is returned annotated with the attempt count.
func (e *Executor) Do(ctx context.Context, op Operation) (*costwise.Response, error) {
	var lastErr error
	attemptsMade := 0

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		attemptsMade = attempt
		resp, err := op(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		provErr := classify(err)
		if provErr.Kind == costwise.ProviderErrorFatal {
			e.logger.Debug("Provider call failed fatally, not retrying",
				"provider", provErr.Provider,
				"model", provErr.Model,
				"error", err)
			provErr.Attempts = attempt
			return nil, provErr
		}

		if ctx.Err() != nil {
			// The overall context is gone; no point in another attempt
			break
		}

		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.delayFor(provErr, attempt)
		e.logger.Debug("Provider call failed, retrying",
			"provider", provErr.Provider,
			"model", provErr.Model,
			"kind", provErr.Kind,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		if err := e.sleep(ctx, delay); err != nil {
			break
		}
	}

	provErr := classify(lastErr)
	provErr.Attempts = attemptsMade
	return nil, provErr
}

// delayFor computes the wait before the next attempt
func (e *Executor) delayFor(err *costwise.ProviderError, attempt int) time.Duration {
	if err.Kind == costwise.ProviderErrorRateLimited && err.RetryAfter > 0 {
		if err.RetryAfter > e.policy.MaxDelay {
			return e.policy.MaxDelay
		}
		return err.RetryAfter
	}

	delay := e.policy.BaseDelay * time.Duration(1<<(attempt-1))
	delay = time.Duration(float64(delay) * e.jitter())
	if delay > e.policy.MaxDelay {
		delay = e.policy.MaxDelay
	}
	return delay
}

// classify maps an arbitrary error to a *costwise.ProviderError. Context
// deadline failures of one attempt count as transient so a retry can use the
// remaining attempt budget.
func classify(err error) *costwise.ProviderError {
	var provErr *costwise.ProviderError
	if errors.As(err, &provErr) {
		return &costwise.ProviderError{
			Kind:       provErr.Kind,
			Provider:   provErr.Provider,
			Model:      provErr.Model,
			Message:    provErr.Message,
			RetryAfter: provErr.RetryAfter,
			Cause:      provErr.Cause,
		}
	}

	kind := costwise.ProviderErrorTransient
	msg := "unclassified provider failure"
	if err != nil {
		msg = err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "attempt timed out"
	}

	return &costwise.ProviderError{
		Kind:    kind,
		Message: msg,
		Cause:   err,
	}
}

// sleepCtx blocks for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
