// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package pricing supplies the static and discovered tiers of the
// cost-resolution chain.
package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// staticPrice is one built-in per-1K-token price in USD
type staticPrice struct {
	inputPer1K  string
	outputPer1K string
}

// staticTable covers common provider/model pairs so cost calculation works
// even against an empty database. Self-hosted providers carry explicit zero
// prices; those resolve to a zero-cost breakdown, not an unknown one.
var staticTable = map[string]staticPrice{
	"openai/gpt-4o":              {"0.0025", "0.01"},
	"openai/gpt-4o-mini":         {"0.00015", "0.0006"},
	"openai/gpt-4.1":             {"0.002", "0.008"},
	"openai/gpt-4.1-mini":        {"0.0004", "0.0016"},
	"openai/o3-mini":             {"0.0011", "0.0044"},
	"anthropic/claude-sonnet-4":  {"0.003", "0.015"},
	"anthropic/claude-opus-4":    {"0.015", "0.075"},
	"anthropic/claude-haiku-3.5": {"0.0008", "0.004"},
	"google/gemini-2.0-flash":    {"0.0001", "0.0004"},
	"google/gemini-2.5-pro":      {"0.00125", "0.01"},
	"mistral/mistral-large":      {"0.002", "0.006"},
	"mistral/mistral-small":      {"0.0002", "0.0006"},
	"ollama/llama3.1":            {"0", "0"},
	"ollama/mistral":             {"0", "0"},
	"llamacpp/local":             {"0", "0"},
}

// StaticTable is the built-in pricing tier
type StaticTable struct {
	entries map[string]*costwise.PriceEntry
}

// NewStaticTable builds the static tier from the built-in table
func NewStaticTable() *StaticTable {
	entries := make(map[string]*costwise.PriceEntry, len(staticTable))
	for key, price := range staticTable {
		provider, model, _ := strings.Cut(key, "/")
		entries[key] = &costwise.PriceEntry{
			Provider:      provider,
			Model:         model,
			InputPerUnit:  decimal.RequireFromString(price.inputPer1K),
			OutputPerUnit: decimal.RequireFromString(price.outputPer1K),
			Currency:      "USD",
			UnitSize:      1000,
			Source:        costwise.PriceSourceStatic,
			Active:        true,
		}
	}
	return &StaticTable{entries: entries}
}

// Lookup returns the built-in price entry for a provider/model pair. The
// returned entry is a copy with a fresh ID, stamped with the current time so
// staleness checks never reject it and it can be persisted as-is.
func (t *StaticTable) Lookup(provider, model string) (*costwise.PriceEntry, error) {
	e, ok := t.entries[provider+"/"+model]
	if !ok {
		return nil, fmt.Errorf("static pricing for %s/%s: %w", provider, model, costwise.ErrNotFound)
	}

	entry := *e
	entry.ID = uuid.New().String()
	entry.EffectiveAt = time.Now()
	return &entry, nil
}

// Entries returns a copy of every built-in entry, each with a fresh ID and
// stamped with the current time
func (t *StaticTable) Entries() []*costwise.PriceEntry {
	out := make([]*costwise.PriceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entry := *e
		entry.ID = uuid.New().String()
		entry.EffectiveAt = time.Now()
		out = append(out, &entry)
	}
	return out
}

// Size returns the number of built-in entries
func (t *StaticTable) Size() int {
	return len(t.entries)
}
