package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the instruments recorded by batchctl.
type Metrics struct {
	meter metric.Meter

	// Submission
	JobsSubmitted metric.Int64Counter
	SubmitErrors  metric.Int64Counter

	// Monitoring
	StatusTransitions metric.Int64Counter
	WatchDuration     metric.Float64Histogram
	LogEvents         metric.Int64Counter
	LogReadErrors     metric.Int64Counter

	// Cloud API calls
	APICallDuration metric.Float64Histogram

	// HTTP admin surface
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	// Notifier
	NotifierDuration  metric.Float64Histogram
	NotifierDelivered metric.Int64Counter
	NotifierFailed    metric.Int64Counter
	NotifierDropped   metric.Int64Counter
	NotifierQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter("batchctl")}
	if err := m.register(); err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func (m *Metrics) register() error {
	var err error
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	histogram := func(name, desc string, bounds ...float64) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = m.meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(bounds...),
		)
		return h
	}

	m.JobsSubmitted = counter("batchctl_jobs_submitted_total", "Jobs accepted by the compute service")
	m.SubmitErrors = counter("batchctl_submit_errors_total", "Submissions rejected or failed")
	m.StatusTransitions = counter("batchctl_job_status_transitions_total", "Job status changes observed by the monitor")
	m.WatchDuration = histogram("batchctl_watch_duration_seconds", "Time spent watching a job until it finished",
		1, 10, 30, 60, 300, 600, 1800, 3600, 7200, 21600)
	m.LogEvents = counter("batchctl_log_events_total", "Log events read from the log store")
	m.LogReadErrors = counter("batchctl_log_read_errors_total", "Failed log page reads")
	m.APICallDuration = histogram("batchctl_api_call_duration_seconds", "Cloud API call latency",
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.HTTPRequestDuration = histogram("batchctl_http_request_duration_seconds", "Admin HTTP request latency",
		0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5)
	m.HTTPRequestsTotal = counter("batchctl_http_requests_total", "Admin HTTP requests")
	m.NotifierDuration = histogram("batchctl_notifier_duration_seconds", "Notification delivery latency",
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.NotifierDelivered = counter("batchctl_notifier_delivered_total", "Notifications delivered")
	m.NotifierFailed = counter("batchctl_notifier_failed_total", "Notifications failed after retries")
	m.NotifierDropped = counter("batchctl_notifier_dropped_total", "Notifications dropped (buffer full or circuit open)")
	if err != nil {
		return err
	}

	m.NotifierQueueSize, err = m.meter.Int64Gauge(
		"batchctl_notifier_queue_size",
		metric.WithDescription("Notifications waiting for delivery"),
	)
	return err
}

// RecordJobSubmitted records an accepted submission.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, queue, payload string) {
	m.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(queueAttr(queue), payloadAttr(payload)))
}

// RecordSubmitError records a failed submission.
func (m *Metrics) RecordSubmitError(ctx context.Context, queue string) {
	m.SubmitErrors.Add(ctx, 1, metric.WithAttributes(queueAttr(queue)))
}

// RecordStatusTransition records the monitor observing a new status.
func (m *Metrics) RecordStatusTransition(ctx context.Context, status string) {
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(statusAttr(status)))
}

// RecordWatchFinished records how long a watched job took to finish.
func (m *Metrics) RecordWatchFinished(ctx context.Context, status string, durationSeconds float64) {
	m.WatchDuration.Record(ctx, durationSeconds, metric.WithAttributes(statusAttr(status)))
}

// RecordLogEvents records log events read in one drain.
func (m *Metrics) RecordLogEvents(ctx context.Context, n int) {
	if n > 0 {
		m.LogEvents.Add(ctx, int64(n))
	}
}

// RecordLogReadError records a failed log read.
func (m *Metrics) RecordLogReadError(ctx context.Context) {
	m.LogReadErrors.Add(ctx, 1)
}

// RecordAPICall records the latency and outcome of a cloud API call.
func (m *Metrics) RecordAPICall(ctx context.Context, operation string, success bool, durationSeconds float64) {
	m.APICallDuration.Record(ctx, durationSeconds, metric.WithAttributes(operationAttr(operation), successAttr(success)))
}

// RecordHTTPRequest records admin HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(methodAttr(method), routeAttr(route), httpStatusAttr(statusCode))
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

// RecordNotifierDelivered records a successful delivery with its duration.
func (m *Metrics) RecordNotifierDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifierDelivered.Add(ctx, 1)
	m.NotifierDuration.Record(ctx, durationSeconds)
}

// RecordNotifierFailed records a failed delivery.
func (m *Metrics) RecordNotifierFailed(ctx context.Context) {
	m.NotifierFailed.Add(ctx, 1)
}

// RecordNotifierDropped records a dropped notification.
func (m *Metrics) RecordNotifierDropped(ctx context.Context) {
	m.NotifierDropped.Add(ctx, 1)
}

// RecordNotifierQueueSize records the current queue size.
func (m *Metrics) RecordNotifierQueueSize(ctx context.Context, size int64) {
	m.NotifierQueueSize.Record(ctx, size)
}
