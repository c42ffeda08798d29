// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package costwise

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound should be returned when a requested resource cannot be found
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEntry should be returned when a resource would violate unique constraints
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrStoreUnavailable should be returned when the price store cannot be reached.
	// The cost engine treats it as a signal to fall through to the next pricing tier.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNoPricing should be returned when no pricing tier could resolve a price
	ErrNoPricing = errors.New("no pricing available")
)

// ProviderErrorKind classifies provider call failures for retry purposes
type ProviderErrorKind string

const (
	// ProviderErrorFatal covers authentication and invalid-request failures.
	// Fatal errors are never retried.
	ProviderErrorFatal ProviderErrorKind = "fatal"

	// ProviderErrorTransient covers network and server failures, retried with
	// exponential backoff.
	ProviderErrorTransient ProviderErrorKind = "transient"

	// ProviderErrorRateLimited covers failures where the provider supplied an
	// explicit wait duration.
	ProviderErrorRateLimited ProviderErrorKind = "rate_limited"
)

// ProviderError is a typed failure from a provider call
type ProviderError struct {
	Kind       ProviderErrorKind
	Provider   string
	Model      string
	Message    string
	RetryAfter time.Duration // only meaningful for rate-limited errors
	Attempts   int           // set by the retry executor on exhaustion
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s: %s error: %s", e.Provider, e.Kind, e.Message)
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the retry executor may attempt the call again
func (e *ProviderError) Retryable() bool {
	return e.Kind != ProviderErrorFatal
}

// BudgetExceededError is raised before a provider call when admitting the
// request would push a hard budget limit over
type BudgetExceededError struct {
	Scope     Scope
	Limit     decimal.Decimal
	Spend     decimal.Decimal
	Estimated decimal.Decimal
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for %s %s: spend %s + estimated %s over limit %s",
		e.Scope.Type, e.Scope.ID, e.Spend.String(), e.Estimated.String(), e.Limit.String())
}

// CostCalculationError wraps failures inside the cost tracking stage.
// It is recovered locally and never surfaced to the caller.
type CostCalculationError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *CostCalculationError) Error() string {
	return fmt.Sprintf("cost calculation failed for %s/%s: %v", e.Provider, e.Model, e.Cause)
}

func (e *CostCalculationError) Unwrap() error {
	return e.Cause
}
