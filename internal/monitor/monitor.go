// Package monitor follows a submitted job until it finishes, streaming its
// log output and reporting each status change once.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"batchctl/internal/job"
	"batchctl/internal/logs"
	"batchctl/internal/observability"
	"batchctl/pkg/circuitbreaker"
)

// DefaultInterval is the pause between two status polls.
const DefaultInterval = 200 * time.Millisecond

// Describer returns the current description of a job. *job.Lookup
// satisfies it, including the snapshot fallback.
type Describer interface {
	Describe(ctx context.Context, jobID string) (*job.Description, error)
}

// Config wires a Monitor. Snapshots, Notifier and Metrics are optional.
type Config struct {
	Describer Describer
	Snapshots job.SnapshotStore
	Logs      logs.API
	LogGroup  string
	Output    io.Writer // log lines; default os.Stdout
	Interval  time.Duration
	Clock     Clock
	Notifier  job.Notifier
	Events    []string
	Metrics   *observability.Metrics
	Breaker   circuitbreaker.Config // per log stream
}

func (c Config) withDefaults() Config {
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.LogGroup == "" {
		c.LogGroup = logs.DefaultGroup
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker = circuitbreaker.DefaultConfig()
	}
	if c.Breaker.Now == nil {
		c.Breaker.Now = c.Clock.Now
	}
	return c
}

// Monitor watches jobs. It is safe to reuse across jobs but not to watch
// two jobs concurrently.
type Monitor struct {
	cfg Config
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg.withDefaults()}
}

// watch is the state of one Watch call.
type watch struct {
	*Monitor
	jobID    string
	logger   *slog.Logger
	last     job.Status
	saved    bool
	readers  map[string]*logs.Reader
	breakers *circuitbreaker.Registry
}

// Watch polls jobID until it reaches SUCCEEDED or FAILED and returns the
// final description. Log output is written as it appears. A description
// served from a snapshot ends the watch, since the live record is gone.
func (m *Monitor) Watch(ctx context.Context, jobID string) (*job.Description, error) {
	w := &watch{
		Monitor:  m,
		jobID:    jobID,
		logger:   slog.With("jobId", jobID),
		readers:  make(map[string]*logs.Reader),
		breakers: circuitbreaker.NewRegistry(m.cfg.Breaker),
	}
	start := m.cfg.Clock.Now()

	for {
		desc, err := m.cfg.Describer.Describe(ctx, jobID)
		if err != nil {
			return nil, err
		}

		w.observe(ctx, desc)

		if desc.Status.IsTerminal() {
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.RecordWatchFinished(ctx, string(desc.Status), m.cfg.Clock.Now().Sub(start).Seconds())
			}
			return desc, nil
		}
		if desc.FromSnapshot {
			w.logger.Warn("Live job record expired, returning last snapshot", "status", desc.Status)
			return desc, nil
		}

		select {
		case <-ctx.Done():
			return desc, ctx.Err()
		case <-m.cfg.Clock.After(m.cfg.Interval):
		}
	}
}

// observe handles one poll result.
func (w *watch) observe(ctx context.Context, desc *job.Description) {
	if desc.Status != w.last {
		w.transition(ctx, desc)
	}

	if !desc.Status.HasLogs() {
		return
	}
	if !w.saved && !desc.FromSnapshot && w.cfg.Snapshots != nil {
		w.saved = true
		if err := w.cfg.Snapshots.Save(ctx, job.SnapshotOf(desc, w.cfg.Clock.Now())); err != nil {
			w.logger.Warn("Job description snapshot not saved", "error", err)
		}
	}
	if desc.LogStream != "" {
		w.drain(ctx, desc.LogStream)
	}
}

func (w *watch) transition(ctx context.Context, desc *job.Description) {
	previous := w.last
	w.last = desc.Status

	attrs := []any{"status", desc.Status, "jobName", desc.Name}
	if previous != "" {
		attrs = append(attrs, "previous", previous)
	}
	if desc.StatusReason != "" {
		attrs = append(attrs, "statusReason", desc.StatusReason)
	}
	if desc.ExitCode != nil {
		attrs = append(attrs, "exitCode", *desc.ExitCode)
	}
	w.logger.Info("Job status changed", attrs...)

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordStatusTransition(ctx, string(desc.Status))
	}
	if w.cfg.Notifier == nil {
		return
	}
	event := job.NewEventBuilder(w.jobID, job.EventSource).BuildStatusEvent(desc, previous)
	if !job.FilteredEvents(event.Type, w.cfg.Events) {
		return
	}
	if err := w.cfg.Notifier.Notify(event); err != nil {
		w.logger.Warn("Status event not queued", "error", err)
	}
}

// drain prints every new event of stream. Failures are logged and counted
// against the stream's breaker; they never end the watch.
func (w *watch) drain(ctx context.Context, stream string) {
	breaker := w.breakers.Get(stream)
	if !breaker.Allow() {
		w.logger.Debug("Log stream paused after repeated failures", "logStream", stream)
		return
	}

	reader, ok := w.readers[stream]
	if !ok {
		var err error
		reader, err = logs.NewReader(w.cfg.Logs, w.cfg.LogGroup, stream, logs.Options{})
		if err != nil {
			w.logger.Warn("Log reader not created", "logStream", stream, "error", err)
			return
		}
		w.readers[stream] = reader
	}

	n, failed := 0, false
	for event, err := range reader.Events(ctx) {
		if err != nil {
			failed = true
			breaker.RecordFailure()
			if w.cfg.Metrics != nil {
				w.cfg.Metrics.RecordLogReadError(ctx)
			}
			w.logger.Warn("Log read failed", "logStream", stream, "error", err, "breaker", breaker.State().String())
			break
		}
		n++
		fmt.Fprintln(w.cfg.Output, event.String())
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordLogEvents(ctx, n)
	}
	if !failed {
		breaker.RecordSuccess()
	}
}

var _ job.Watcher = (*Monitor)(nil)
