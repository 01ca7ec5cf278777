// Package notify delivers job lifecycle events to a webhook asynchronously.
package notify

import (
	"context"
	"errors"

	"batchctl/pkg/cloudevent"
)

var (
	// ErrBufferFull is returned when the notifier's buffer is full and the event is dropped.
	ErrBufferFull = errors.New("notifier buffer full, event dropped")

	// ErrClosed is returned by Notify after Close.
	ErrClosed = errors.New("notifier is closed")
)

// Notifier queues events for delivery.
type Notifier interface {
	// Notify queues event for async delivery. Non-blocking.
	Notify(event *cloudevent.CloudEvent) error

	// Close delivers what is queued until ctx expires.
	Close(ctx context.Context) error
}

// Stats holds notifier counters.
type Stats struct {
	QueueDepth   int
	Queued       int64
	Delivered    int64
	Failed       int64
	Dropped      int64
	RetriesTotal int64
}

// Nop discards every event. It is used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(*cloudevent.CloudEvent) error { return nil }
func (Nop) Close(context.Context) error         { return nil }

// New returns a Webhook notifier for cfg.URL, or Nop when no URL is set.
func New(cfg Config, metrics MetricsRecorder) Notifier {
	if cfg.URL == "" {
		return Nop{}
	}
	return NewWebhook(cfg, metrics)
}
