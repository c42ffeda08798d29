// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package notify

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func warningEvent(percent int) costwise.ThresholdEvent {
	return costwise.ThresholdEvent{
		Scope:      costwise.Scope{Type: costwise.ScopeUser, ID: "user-1"},
		Percent:    percent,
		Spend:      decimal.RequireFromString("80"),
		Limit:      decimal.RequireFromString("100"),
		Severity:   costwise.SeverityWarning,
		OccurredAt: time.Now(),
	}
}

func TestLogNotifier_DeliversBeforeShutdown(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	n := NewLogNotifier(logger)
	n.Notify(warningEvent(80))
	n.Shutdown()

	out := buf.String()
	assert.Contains(t, out, "Budget threshold notification")
	assert.Contains(t, out, "user:user-1")
	assert.Contains(t, out, "percent=80")
	assert.Contains(t, out, "level=WARN")
}

func TestLogNotifier_CriticalLogsAtError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	event := warningEvent(100)
	event.Severity = costwise.SeverityCritical

	n := NewLogNotifier(logger)
	n.Notify(event)
	n.Shutdown()

	assert.Contains(t, buf.String(), "level=ERROR")
}

// stallingHandler blocks delivery records until released so a test can fill
// the queue deterministically
type stallingHandler struct {
	slog.Handler
	release chan struct{}
}

func (h *stallingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Message == "Budget threshold notification" {
		<-h.release
	}
	return h.Handler.Handle(ctx, r)
}

func TestLogNotifier_DropsWhenQueueFull(t *testing.T) {
	var buf syncBuffer
	release := make(chan struct{})
	logger := slog.New(&stallingHandler{
		Handler: slog.NewTextHandler(&buf, nil),
		release: release,
	})

	n := NewLogNotifier(logger, WithNotifierBuffer(1))

	// First event may be in flight on the worker, second fills the buffer,
	// the rest must drop
	for i := 0; i < 3; i++ {
		n.Notify(warningEvent(80))
	}

	assert.Contains(t, buf.String(), "dropping threshold event")

	close(release)
	n.Shutdown()
}
