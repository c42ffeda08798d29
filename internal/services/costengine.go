// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/costwise-ai/costwise/internal/cache"
	"github.com/costwise-ai/costwise/internal/monitoring"
	"github.com/costwise-ai/costwise/internal/pricing"
	"github.com/shopspring/decimal"
)

// DefaultStalenessThreshold is how old a stored price entry may be before the
// engine falls through to the next tier
const DefaultStalenessThreshold = 24 * time.Hour

// CostEngine resolves per-token prices through a three-tier fallback chain
// (persisted store, static table, on-demand discovery) and produces cost
// breakdowns. Resolved prices and breakdowns are cached for the process
// lifetime; both caches are injected, never package-level.
type CostEngine struct {
	priceRepo      costwise.PriceRepository
	staticTable    *pricing.StaticTable
	discoverer     costwise.PriceDiscoverer
	priceCache     *cache.Cache[string, costwise.PriceEntry]
	breakdownCache *cache.Cache[string, costwise.CostBreakdown]
	staleness      time.Duration
	logger         *slog.Logger
	metrics        *monitoring.SpendMetrics
}

// CostEngineOption configures CostEngine behavior
type CostEngineOption func(*CostEngine)

// WithCostEngineLogger sets the logger for the cost engine
func WithCostEngineLogger(logger *slog.Logger) CostEngineOption {
	return func(e *CostEngine) {
		e.logger = logger
	}
}

// WithStalenessThreshold sets how old a stored price may be before the engine
// falls through to the static tier
func WithStalenessThreshold(threshold time.Duration) CostEngineOption {
	return func(e *CostEngine) {
		e.staleness = threshold
	}
}

// WithCostEngineMetrics sets the metrics bundle for the cost engine
func WithCostEngineMetrics(metrics *monitoring.SpendMetrics) CostEngineOption {
	return func(e *CostEngine) {
		e.metrics = metrics
	}
}

// WithCostEngineCaches injects the price and breakdown caches. Both default
// to process-lifetime caches when not provided.
func WithCostEngineCaches(prices *cache.Cache[string, costwise.PriceEntry], breakdowns *cache.Cache[string, costwise.CostBreakdown]) CostEngineOption {
	return func(e *CostEngine) {
		e.priceCache = prices
		e.breakdownCache = breakdowns
	}
}

// NewCostEngine creates a new CostEngine. The static table and discoverer
// may each be nil, in which case their tier is skipped.
func NewCostEngine(
	priceRepo costwise.PriceRepository,
	staticTable *pricing.StaticTable,
	discoverer costwise.PriceDiscoverer,
	options ...CostEngineOption,
) *CostEngine {
	e := &CostEngine{
		priceRepo:   priceRepo,
		staticTable: staticTable,
		discoverer:  discoverer,
		staleness:   DefaultStalenessThreshold,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(e)
	}

	if e.priceCache == nil {
		e.priceCache = cache.New[string, costwise.PriceEntry](0)
	}
	if e.breakdownCache == nil {
		e.breakdownCache = cache.New[string, costwise.CostBreakdown](0)
	}

	return e
}

// Calculate resolves a price for the provider/model pair and returns the cost
// breakdown for the given token counts. Pricing being unavailable is not an
// error: the breakdown comes back zero with source "unknown". An error is
// returned only for invalid input.
func (e *CostEngine) Calculate(ctx context.Context, provider, model string, inputTokens, outputTokens int) (*costwise.CostBreakdown, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return nil, fmt.Errorf("negative token counts (%d, %d) for %s/%s", inputTokens, outputTokens, provider, model)
	}

	start := time.Now()

	cacheKey := fmt.Sprintf("%s|%s|%d|%d", provider, model, inputTokens, outputTokens)
	if cached, ok := e.breakdownCache.Get(cacheKey); ok {
		return &cached, nil
	}

	entry := e.resolvePrice(ctx, provider, model)

	var breakdown costwise.CostBreakdown
	if entry == nil {
		breakdown = costwise.CostBreakdown{
			InputCost:  decimal.Zero,
			OutputCost: decimal.Zero,
			TotalCost:  decimal.Zero,
			Currency:   "USD",
			Source:     costwise.PriceSourceUnknown,
			ComputedAt: time.Now(),
		}
	} else {
		breakdown = computeBreakdown(entry, inputTokens, outputTokens)
	}

	e.breakdownCache.Set(cacheKey, breakdown)

	if e.metrics != nil {
		e.metrics.RecordCostCalculation(ctx, time.Since(start), string(breakdown.Source))
	}

	return &breakdown, nil
}

// FlushCaches drops all cached prices and breakdowns. The next calculation
// re-resolves through the fallback chain.
func (e *CostEngine) FlushCaches() {
	e.priceCache.InvalidateAll()
	e.breakdownCache.InvalidateAll()
}

// resolvePrice walks the fallback chain and returns the winning entry, or nil
// when every tier comes up empty
func (e *CostEngine) resolvePrice(ctx context.Context, provider, model string) *costwise.PriceEntry {
	priceKey := provider + "/" + model
	if cached, ok := e.priceCache.Get(priceKey); ok {
		return &cached
	}

	entry := e.lookupStore(ctx, provider, model)
	if entry == nil {
		entry = e.lookupStatic(ctx, provider, model)
	}
	if entry == nil {
		entry = e.lookupDiscovery(ctx, provider, model)
	}
	if entry == nil {
		e.logger.Warn("No pricing tier could resolve a price",
			"provider", provider,
			"model", model)
		return nil
	}

	e.priceCache.Set(priceKey, *entry)
	return entry
}

// lookupStore is tier 1: the persisted lookup store. Store unavailability and
// staleness both fall through to the next tier.
func (e *CostEngine) lookupStore(ctx context.Context, provider, model string) *costwise.PriceEntry {
	entry, err := e.priceRepo.GetActivePrice(ctx, provider, model)
	if err != nil {
		switch {
		case errors.Is(err, costwise.ErrNotFound):
		case errors.Is(err, costwise.ErrStoreUnavailable):
			e.logger.Warn("Price store unavailable, falling through to static tier",
				"provider", provider,
				"model", model,
				"error", err)
		default:
			e.logger.Error("Price store lookup failed",
				"provider", provider,
				"model", model,
				"error", err)
		}
		return nil
	}

	if entry.IsStale(e.staleness) {
		e.logger.Debug("Stored price is stale, falling through",
			"provider", provider,
			"model", model,
			"effectiveAt", entry.EffectiveAt)
		return nil
	}

	return entry
}

// lookupStatic is tier 2: the built-in table. A hit is backfilled into the
// store best-effort so the next process finds it in tier 1.
func (e *CostEngine) lookupStatic(ctx context.Context, provider, model string) *costwise.PriceEntry {
	if e.staticTable == nil {
		return nil
	}

	entry, err := e.staticTable.Lookup(provider, model)
	if err != nil {
		return nil
	}

	if err := e.priceRepo.SavePrice(ctx, entry); err != nil {
		e.logger.Debug("Failed to backfill static price into store",
			"provider", provider,
			"model", model,
			"error", err)
	}

	return entry
}

// lookupDiscovery is tier 3: the provider's own metadata API. A discovered
// entry is persisted as the new active price.
func (e *CostEngine) lookupDiscovery(ctx context.Context, provider, model string) *costwise.PriceEntry {
	if e.discoverer == nil {
		return nil
	}

	entry, err := e.discoverer.DiscoverPrice(ctx, provider, model)
	if err != nil {
		e.logger.Debug("Price discovery failed",
			"provider", provider,
			"model", model,
			"error", err)
		return nil
	}

	if err := e.priceRepo.SavePrice(ctx, entry); err != nil {
		e.logger.Warn("Failed to persist discovered price",
			"provider", provider,
			"model", model,
			"error", err)
	}

	return entry
}

// computeBreakdown applies the cost formula: tokens / unitSize * pricePerUnit
// per direction, each component rounded to currency precision so the total is
// exactly the sum of the parts
func computeBreakdown(entry *costwise.PriceEntry, inputTokens, outputTokens int) costwise.CostBreakdown {
	unitSize := entry.UnitSize
	if unitSize <= 0 {
		unitSize = 1
	}
	unit := decimal.NewFromInt(unitSize)

	inputCost := entry.InputPerUnit.
		Mul(decimal.NewFromInt(int64(inputTokens))).
		Div(unit).
		Round(costwise.USDPrecision)
	outputCost := entry.OutputPerUnit.
		Mul(decimal.NewFromInt(int64(outputTokens))).
		Div(unit).
		Round(costwise.USDPrecision)

	source := entry.Source
	if entry.IsZeroCost() {
		source = costwise.PriceSourceZeroCost
	}

	return costwise.CostBreakdown{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  inputCost.Add(outputCost),
		Currency:   entry.Currency,
		Source:     source,
		ComputedAt: time.Now(),
	}
}
