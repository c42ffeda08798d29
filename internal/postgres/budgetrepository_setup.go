// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"log/slog"
)

type BudgetRepository struct {
	options *budgetRepositoryOptions
}

// NewBudgetRepository creates a new [BudgetRepository].
func NewBudgetRepository(options ...BudgetRepositoryOption) (*BudgetRepository, error) {
	opts := defaultBudgetRepositoryOptions
	for _, opt := range GlobalBudgetRepositoryOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	return &BudgetRepository{
		options: &opts,
	}, nil
}

type budgetRepositoryOptions struct {
	Logger *slog.Logger
	Db     PgxPoolInterface
}

var defaultBudgetRepositoryOptions = budgetRepositoryOptions{
	Logger: slog.Default(),
}

// GlobalBudgetRepositoryOptions is a list of [BudgetRepositoryOption]s that are applied to all [BudgetRepository]s.
var GlobalBudgetRepositoryOptions []BudgetRepositoryOption

// BudgetRepositoryOption is an option for configuring a [BudgetRepository].
type BudgetRepositoryOption interface {
	apply(*budgetRepositoryOptions)
}

// funcBudgetRepositoryOption is a [BudgetRepositoryOption] that calls a function.
// It is used to wrap a function, so it satisfies the [BudgetRepositoryOption] interface.
type funcBudgetRepositoryOption struct {
	f func(*budgetRepositoryOptions)
}

func (fdo *funcBudgetRepositoryOption) apply(opts *budgetRepositoryOptions) {
	fdo.f(opts)
}

func newFuncBudgetRepositoryOption(f func(*budgetRepositoryOptions)) *funcBudgetRepositoryOption {
	return &funcBudgetRepositoryOption{
		f: f,
	}
}

// WithBudgetRepositoryLogger returns a [BudgetRepositoryOption] that uses the provided logger.
func WithBudgetRepositoryLogger(logger *slog.Logger) BudgetRepositoryOption {
	return newFuncBudgetRepositoryOption(func(opts *budgetRepositoryOptions) {
		opts.Logger = logger
	})
}

// WithBudgetRepositoryDb returns a [BudgetRepositoryOption] that uses the provided database connection.
func WithBudgetRepositoryDb(db PgxPoolInterface) BudgetRepositoryOption {
	return newFuncBudgetRepositoryOption(func(opts *budgetRepositoryOptions) {
		opts.Db = db
	})
}
