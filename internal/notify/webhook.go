package notify

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"batchctl/pkg/backoff"
	"batchctl/pkg/circuitbreaker"
	"batchctl/pkg/cloudevent"
)

// MetricsRecorder is an optional interface for recording notifier metrics.
type MetricsRecorder interface {
	RecordNotifierDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifierFailed(ctx context.Context)
	RecordNotifierDropped(ctx context.Context)
	RecordNotifierQueueSize(ctx context.Context, size int64)
}

// Webhook posts events to a single URL from a bounded queue drained by a
// worker pool. A full buffer or an open breaker drops the event.
type Webhook struct {
	queue   chan *cloudevent.CloudEvent
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	config  Config
	backoff backoff.Config
	logger  *slog.Logger
	metrics MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	mu       sync.RWMutex
	shutdown chan struct{}
	closed   bool
}

// NewWebhook starts a webhook notifier.
func NewWebhook(cfg Config, metrics MetricsRecorder) *Webhook {
	cfg = cfg.withDefaults()

	w := &Webhook{
		queue:  make(chan *cloudevent.CloudEvent, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
		}),
		config:   cfg,
		backoff:  backoff.Config{Initial: cfg.RetryDelay, Max: defaultMaxBackoff},
		logger:   slog.With("component", "notifier", "destination", extractHost(cfg.URL)),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	w.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go w.worker()
	}

	w.logger.Debug("Notifier started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return w
}

// Notify queues event for delivery.
func (w *Webhook) Notify(event *cloudevent.CloudEvent) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	select {
	case w.queue <- event:
		w.queued.Add(1)
		w.recordQueueSize()
		return nil
	default:
		w.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current notifier statistics.
func (w *Webhook) Stats() Stats {
	return Stats{
		QueueDepth:   len(w.queue),
		Queued:       w.queued.Load(),
		Delivered:    w.delivered.Load(),
		Failed:       w.failed.Load(),
		Dropped:      w.dropped.Load(),
		RetriesTotal: w.retriesTotal.Load(),
	}
}

// Close stops accepting events and waits for the queue to drain.
func (w *Webhook) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.shutdown)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Debug("Notifier shutdown complete",
			"delivered", w.delivered.Load(),
			"failed", w.failed.Load(),
			"dropped", w.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		w.logger.Warn("Notifier shutdown timed out", "remaining", len(w.queue))
		return ctx.Err()
	}
}

func (w *Webhook) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.shutdown:
			w.drainQueue()
			return
		case event := <-w.queue:
			w.deliver(event)
		}
	}
}

func (w *Webhook) drainQueue() {
	for {
		select {
		case event := <-w.queue:
			w.deliver(event)
		default:
			return
		}
	}
}

func (w *Webhook) deliver(event *cloudevent.CloudEvent) {
	w.recordQueueSize()
	if !w.breaker.Allow() {
		w.drop(event, "circuit open")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDeliverTimeout)
	defer cancel()

	start := time.Now()
	if err := w.sendWithRetry(ctx, event); err != nil {
		w.breaker.RecordFailure()
		w.failed.Add(1)
		if w.metrics != nil {
			w.metrics.RecordNotifierFailed(ctx)
		}
		w.logger.Warn("Delivery failed", "type", event.Type, "jobId", event.Subject, "error", err)
		return
	}

	w.breaker.RecordSuccess()
	w.delivered.Add(1)
	if w.metrics != nil {
		w.metrics.RecordNotifierDelivered(ctx, time.Since(start).Seconds())
	}
}

func (w *Webhook) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	opts := cloudevent.SendOptions{SigningKey: w.config.SigningKey}

	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			w.retriesTotal.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt, &w.backoff)):
			}
		}

		lastErr = w.sender.Send(ctx, w.config.URL, event, opts)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (w *Webhook) drop(event *cloudevent.CloudEvent, reason string) {
	w.dropped.Add(1)
	if w.metrics != nil {
		w.metrics.RecordNotifierDropped(context.Background())
	}
	w.logger.Warn("Event dropped", "reason", reason, "type", event.Type, "jobId", event.Subject)
}

func (w *Webhook) recordQueueSize() {
	if w.metrics != nil {
		w.metrics.RecordNotifierQueueSize(context.Background(), int64(len(w.queue)))
	}
}

// extractHost keeps webhook credentials in the path out of logs.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Notifier = (*Webhook)(nil)
