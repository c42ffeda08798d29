// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_SweepRollsOverExpiredBudgets(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	expired := dailyBudget("budget-1", userScope("user-1"), "100")
	expired.CurrentSpend = dec("42.5")
	expired.PeriodStart = now.AddDate(0, 0, -2)

	current := dailyBudget("budget-2", userScope("user-2"), "100")
	current.CurrentSpend = dec("10")
	current.PeriodStart = now

	repo := newFakeBudgetRepo(expired, current)
	s := NewScheduler(repo, nil,
		WithSchedulerLogger(quietLogger()),
		WithSchedulerClock(func() time.Time { return now }),
	)

	s.runBudgetSweep(context.Background())

	rolled, err := repo.GetBudget(context.Background(), "budget-1")
	require.NoError(t, err)
	assert.True(t, rolled.CurrentSpend.IsZero())
	assert.Equal(t, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), rolled.PeriodStart)

	untouched, err := repo.GetBudget(context.Background(), "budget-2")
	require.NoError(t, err)
	assert.True(t, untouched.CurrentSpend.Equal(decimal.RequireFromString("10")))
}

func TestScheduler_StartStop(t *testing.T) {
	repo := newFakeBudgetRepo()
	s := NewScheduler(repo, nil,
		WithSchedulerLogger(quietLogger()),
		WithSweepInterval(time.Millisecond),
		WithRefreshInterval(time.Millisecond),
	)

	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	select {
	case <-s.doneChan:
	default:
		t.Fatal("scheduler loop still running after Stop")
	}
}

func TestScheduler_RefreshFlushesEngineCaches(t *testing.T) {
	priceRepo := newFakePriceRepo()
	priceRepo.entries["openai/gpt-4o"] = dbEntry("openai", "gpt-4o", "0.0025", "0.01")

	engine := NewCostEngine(priceRepo, nil, nil, WithCostEngineLogger(quietLogger()))

	_, err := engine.Calculate(context.Background(), "openai", "gpt-4o", 1000, 500)
	require.NoError(t, err)
	require.Equal(t, 1, engine.priceCache.Len())

	s := NewScheduler(newFakeBudgetRepo(), engine, WithSchedulerLogger(quietLogger()))
	s.runPriceRefresh()

	assert.Equal(t, 0, engine.priceCache.Len())
	assert.Equal(t, 0, engine.breakdownCache.Len())
}
