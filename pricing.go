// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package costwise

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource tags where a price or cost figure was resolved from
type PriceSource string

const (
	// PriceSourceDatabase means the price came from the persisted lookup store
	PriceSourceDatabase PriceSource = "database"

	// PriceSourceStatic means the price came from the built-in table
	PriceSourceStatic PriceSource = "static"

	// PriceSourceDiscovered means the price was fetched from the provider's
	// own metadata API
	PriceSourceDiscovered PriceSource = "discovered"

	// PriceSourceZeroCost marks a legitimately free model (e.g. self-hosted)
	PriceSourceZeroCost PriceSource = "zero-cost"

	// PriceSourceUnknown marks a breakdown produced when no tier could
	// resolve a price
	PriceSourceUnknown PriceSource = "unknown"

	// PriceSourceError marks a breakdown attached after a recovered cost
	// calculation failure
	PriceSourceError PriceSource = "error"
)

// USDPrecision is the number of decimal places costs are rounded to
const USDPrecision = 6

// PriceEntry is one versioned price for a (provider, model) pair. Exactly one
// entry per pair is active at a time; superseded entries are kept for audit.
type PriceEntry struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	InputPerUnit   decimal.Decimal `json:"inputPerUnit"`
	OutputPerUnit  decimal.Decimal `json:"outputPerUnit"`
	Currency       string          `json:"currency"`
	UnitSize       int64           `json:"unitSize"` // tokens per priced unit, e.g. 1000
	EffectiveAt    time.Time       `json:"effectiveAt"`
	Source         PriceSource     `json:"source"`
	Active         bool            `json:"active"`
}

// IsZeroCost reports whether both per-unit prices are exactly zero
func (p *PriceEntry) IsZeroCost() bool {
	return p.InputPerUnit.IsZero() && p.OutputPerUnit.IsZero()
}

// IsStale reports whether the entry's effective timestamp is older than the
// given threshold
func (p *PriceEntry) IsStale(threshold time.Duration) bool {
	return time.Since(p.EffectiveAt) > threshold
}

// CostBreakdown is the structured result of one cost calculation
type CostBreakdown struct {
	InputCost  decimal.Decimal `json:"inputCost"`
	OutputCost decimal.Decimal `json:"outputCost"`
	TotalCost  decimal.Decimal `json:"totalCost"`
	Currency   string          `json:"currency"`
	Source     PriceSource     `json:"source"`
	ComputedAt time.Time       `json:"computedAt"`
}

// PriceRepository defines persistence operations for price entries.
// Implementations must return ErrNotFound when no active entry exists and
// wrap connectivity failures in ErrStoreUnavailable.
type PriceRepository interface {
	// GetActivePrice retrieves the single active price entry for a provider/model pair
	GetActivePrice(ctx context.Context, provider, model string) (*PriceEntry, error)

	// SavePrice deactivates any previous active entry for the pair and stores
	// the given entry as the new active one
	SavePrice(ctx context.Context, entry *PriceEntry) error

	// ListPriceHistory retrieves entries for a pair, newest first. A
	// non-positive limit returns the full history.
	ListPriceHistory(ctx context.Context, provider, model string, limit int) ([]*PriceEntry, error)
}

// PriceDiscoverer is the boundary to a provider's pricing/model metadata API
type PriceDiscoverer interface {
	// DiscoverPrice fetches current pricing for a model. Returns ErrNotFound
	// when the provider does not know the model.
	DiscoverPrice(ctx context.Context, provider, model string) (*PriceEntry, error)
}
