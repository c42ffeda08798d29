// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/costwise-ai/costwise"
	"github.com/costwise-ai/costwise/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePriceRepo struct {
	entries     map[string]*costwise.PriceEntry
	ids         map[string]bool
	unavailable bool
	saves       int
}

func newFakePriceRepo() *fakePriceRepo {
	return &fakePriceRepo{
		entries: make(map[string]*costwise.PriceEntry),
		ids:     make(map[string]bool),
	}
}

func (r *fakePriceRepo) GetActivePrice(ctx context.Context, provider, model string) (*costwise.PriceEntry, error) {
	if r.unavailable {
		return nil, costwise.ErrStoreUnavailable
	}
	entry, ok := r.entries[provider+"/"+model]
	if !ok {
		return nil, costwise.ErrNotFound
	}
	return entry, nil
}

// SavePrice enforces the same id constraint the prices table does
func (r *fakePriceRepo) SavePrice(ctx context.Context, entry *costwise.PriceEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("price entry for %s/%s has no id", entry.Provider, entry.Model)
	}
	if r.ids[entry.ID] {
		return fmt.Errorf("duplicate price entry id %s", entry.ID)
	}
	r.ids[entry.ID] = true
	r.saves++
	r.entries[entry.Provider+"/"+entry.Model] = entry
	return nil
}

func (r *fakePriceRepo) ListPriceHistory(ctx context.Context, provider, model string, limit int) ([]*costwise.PriceEntry, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckAndBootstrap_SeedsEmptyStore(t *testing.T) {
	repo := newFakePriceRepo()
	table := pricing.NewStaticTable()

	err := CheckAndBootstrap(context.Background(), testLogger(), repo, table)

	require.NoError(t, err)
	assert.Equal(t, table.Size(), repo.saves)

	entry, err := repo.GetActivePrice(context.Background(), "openai", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, costwise.PriceSourceStatic, entry.Source)
}

func TestCheckAndBootstrap_SkipsExistingPrices(t *testing.T) {
	repo := newFakePriceRepo()
	table := pricing.NewStaticTable()

	require.NoError(t, CheckAndBootstrap(context.Background(), testLogger(), repo, table))
	firstRun := repo.saves

	require.NoError(t, CheckAndBootstrap(context.Background(), testLogger(), repo, table))

	assert.Equal(t, firstRun, repo.saves, "second run must not re-seed")
}

func TestCheckAndBootstrap_StoreUnavailable(t *testing.T) {
	repo := newFakePriceRepo()
	repo.unavailable = true

	err := CheckAndBootstrap(context.Background(), testLogger(), repo, pricing.NewStaticTable())

	assert.ErrorIs(t, err, costwise.ErrStoreUnavailable)
}
