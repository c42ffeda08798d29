// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package bootstrap seeds a fresh deployment with the data it needs to be
// useful before any operator configuration has happened.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/costwise-ai/costwise"
	"github.com/costwise-ai/costwise/internal/pricing"
)

// CheckAndBootstrap seeds the price store with the built-in table so the
// stored tier can answer from the first request. Pairs that already have an
// active stored price are left alone, so operator overrides survive
// restarts.
func CheckAndBootstrap(
	ctx context.Context,
	logger *slog.Logger,
	priceRepo costwise.PriceRepository,
	table *pricing.StaticTable,
) error {
	logger.Info("Checking if price store needs seeding...")

	seeded := 0
	for _, entry := range table.Entries() {
		_, err := priceRepo.GetActivePrice(ctx, entry.Provider, entry.Model)
		if err == nil {
			continue
		}
		if !errors.Is(err, costwise.ErrNotFound) {
			return fmt.Errorf("failed to check price for %s/%s: %w", entry.Provider, entry.Model, err)
		}

		if err := priceRepo.SavePrice(ctx, entry); err != nil {
			return fmt.Errorf("failed to seed price for %s/%s: %w", entry.Provider, entry.Model, err)
		}
		seeded++

		logger.Debug("Seeded price",
			"provider", entry.Provider,
			"model", entry.Model,
			"inputPerUnit", entry.InputPerUnit.String(),
			"outputPerUnit", entry.OutputPerUnit.String())
	}

	if seeded == 0 {
		logger.Info("Price store already seeded, no bootstrapping needed")
		return nil
	}

	logger.Info("Price store seeded", "entries", seeded, "total", table.Size())
	return nil
}
