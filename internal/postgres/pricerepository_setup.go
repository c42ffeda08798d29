// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"log/slog"
)

type PriceRepository struct {
	options *priceRepositoryOptions
}

// NewPriceRepository creates a new [PriceRepository].
func NewPriceRepository(options ...PriceRepositoryOption) (*PriceRepository, error) {
	opts := defaultPriceRepositoryOptions
	for _, opt := range GlobalPriceRepositoryOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	return &PriceRepository{
		options: &opts,
	}, nil
}

type priceRepositoryOptions struct {
	Logger *slog.Logger
	Db     PgxPoolInterface
}

var defaultPriceRepositoryOptions = priceRepositoryOptions{
	Logger: slog.Default(),
}

// GlobalPriceRepositoryOptions is a list of [PriceRepositoryOption]s that are applied to all [PriceRepository]s.
var GlobalPriceRepositoryOptions []PriceRepositoryOption

// PriceRepositoryOption is an option for configuring a [PriceRepository].
type PriceRepositoryOption interface {
	apply(*priceRepositoryOptions)
}

// funcPriceRepositoryOption is a [PriceRepositoryOption] that calls a function.
// It is used to wrap a function, so it satisfies the [PriceRepositoryOption] interface.
type funcPriceRepositoryOption struct {
	f func(*priceRepositoryOptions)
}

func (fdo *funcPriceRepositoryOption) apply(opts *priceRepositoryOptions) {
	fdo.f(opts)
}

func newFuncPriceRepositoryOption(f func(*priceRepositoryOptions)) *funcPriceRepositoryOption {
	return &funcPriceRepositoryOption{
		f: f,
	}
}

// WithPriceRepositoryLogger returns a [PriceRepositoryOption] that uses the provided logger.
func WithPriceRepositoryLogger(logger *slog.Logger) PriceRepositoryOption {
	return newFuncPriceRepositoryOption(func(opts *priceRepositoryOptions) {
		opts.Logger = logger
	})
}

// WithPriceRepositoryDb returns a [PriceRepositoryOption] that uses the provided database connection.
func WithPriceRepositoryDb(db PgxPoolInterface) PriceRepositoryOption {
	return newFuncPriceRepositoryOption(func(opts *priceRepositoryOptions) {
		opts.Db = db
	})
}
