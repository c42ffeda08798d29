// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package notify delivers budget threshold events outside the request path
package notify

import (
	"context"
	"log/slog"

	"github.com/costwise-ai/costwise"
)

// LogNotifier writes threshold events to the log from a background worker.
// Notify never blocks; events are dropped when the queue is full.
type LogNotifier struct {
	logger   *slog.Logger
	eventsCh chan costwise.ThresholdEvent
	done     chan struct{}
	stopped  chan struct{}
}

// LogNotifierOption configures LogNotifier behavior
type LogNotifierOption func(*LogNotifier)

// WithNotifierBuffer overrides the event queue capacity
func WithNotifierBuffer(size int) LogNotifierOption {
	return func(n *LogNotifier) {
		n.eventsCh = make(chan costwise.ThresholdEvent, size)
	}
}

// NewLogNotifier creates the notifier and starts its worker. Call Shutdown to
// drain queued events before exiting.
func NewLogNotifier(logger *slog.Logger, options ...LogNotifierOption) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	n := &LogNotifier{
		logger:   logger,
		eventsCh: make(chan costwise.ThresholdEvent, 100),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	for _, opt := range options {
		opt(n)
	}

	go n.processEvents()

	return n
}

// Notify queues one threshold event for delivery without blocking
func (n *LogNotifier) Notify(event costwise.ThresholdEvent) {
	select {
	case n.eventsCh <- event:
	default:
		n.logger.Warn("Notification queue full, dropping threshold event",
			"scope", event.Scope.Key(),
			"percent", event.Percent)
	}
}

func (n *LogNotifier) processEvents() {
	defer close(n.stopped)
	for {
		select {
		case event := <-n.eventsCh:
			n.deliver(event)
		case <-n.done:
			for {
				select {
				case event := <-n.eventsCh:
					n.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (n *LogNotifier) deliver(event costwise.ThresholdEvent) {
	level := slog.LevelWarn
	if event.Severity == costwise.SeverityCritical {
		level = slog.LevelError
	}

	n.logger.Log(context.Background(), level, "Budget threshold notification",
		"scope", event.Scope.Key(),
		"percent", event.Percent,
		"spend", event.Spend.String(),
		"limit", event.Limit.String(),
		"severity", event.Severity,
		"occurredAt", event.OccurredAt)
}

// Shutdown stops the worker after draining queued events
func (n *LogNotifier) Shutdown() {
	close(n.done)
	<-n.stopped
}
