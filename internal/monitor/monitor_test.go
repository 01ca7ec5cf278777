package monitor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"
	"batchctl/pkg/circuitbreaker"
	"batchctl/pkg/cloudevent"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// fakeClock fires every After immediately and records the requested waits.
type fakeClock struct {
	now   time.Time
	waits []time.Duration
	block bool
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	if c.block {
		return nil
	}
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type scriptedDescriber struct {
	descs []*job.Description
	err   error
	calls int
}

func (d *scriptedDescriber) Describe(_ context.Context, _ string) (*job.Description, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	i := min(d.calls-1, len(d.descs)-1)
	return d.descs[i], nil
}

func status(st job.Status, stream string) *job.Description {
	return &job.Description{ID: "job-1", Name: "batchctl_0a1b2c_3", Status: st, LogStream: stream}
}

type fakeSnapshots struct {
	saved []*job.Snapshot
	err   error
}

func (f *fakeSnapshots) Save(_ context.Context, snap *job.Snapshot) error {
	f.saved = append(f.saved, snap)
	return f.err
}

func (f *fakeSnapshots) Load(context.Context, string) (*job.Snapshot, error) {
	return nil, apperrors.NotFound("snapshot", "")
}

type fakeLogs struct {
	mu    sync.Mutex
	pages []*cloudwatchlogs.GetLogEventsOutput
	errs  []error
	calls []*cloudwatchlogs.GetLogEventsInput
}

func (f *fakeLogs) GetLogEvents(_ context.Context, in *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.pages) == 0 {
		return &cloudwatchlogs.GetLogEventsOutput{NextForwardToken: in.NextToken}, nil
	}
	p := f.pages[0]
	f.pages = f.pages[1:]
	return p, nil
}

func logPage(token string, msgs ...string) *cloudwatchlogs.GetLogEventsOutput {
	out := &cloudwatchlogs.GetLogEventsOutput{NextForwardToken: aws.String(token)}
	for i, m := range msgs {
		out.Events = append(out.Events, types.OutputLogEvent{Timestamp: aws.Int64(int64(1000 + i)), Message: aws.String(m)})
	}
	return out
}

type fakeNotifier struct {
	events []*cloudevent.CloudEvent
}

func (n *fakeNotifier) Notify(e *cloudevent.CloudEvent) error {
	n.events = append(n.events, e)
	return nil
}

func TestWatch_ReportsEachStatusOnce(t *testing.T) {
	t.Parallel()
	describer := &scriptedDescriber{descs: []*job.Description{
		status(job.StatusSubmitted, ""),
		status(job.StatusSubmitted, ""),
		status(job.StatusRunnable, ""),
		status(job.StatusRunning, "s1"),
		status(job.StatusRunning, "s1"),
		status(job.StatusSucceeded, "s1"),
	}}
	snaps := &fakeSnapshots{}
	notifier := &fakeNotifier{}
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := New(Config{
		Describer: describer,
		Snapshots: snaps,
		Logs:      &fakeLogs{},
		Output:    &bytes.Buffer{},
		Clock:     clock,
		Notifier:  notifier,
	})

	final, err := m.Watch(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if final.Status != job.StatusSucceeded {
		t.Errorf("final status = %s", final.Status)
	}

	var got []string
	for _, e := range notifier.events {
		got = append(got, e.Data["status"].(string))
	}
	want := []string{"SUBMITTED", "RUNNABLE", "RUNNING", "SUCCEEDED"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("notified statuses = %v, want %v", got, want)
	}
	if last := notifier.events[len(notifier.events)-1]; last.Type != job.EventTypeFinished {
		t.Errorf("last event type = %s, want %s", last.Type, job.EventTypeFinished)
	}

	if len(snaps.saved) != 1 || snaps.saved[0].Status != job.StatusRunning {
		t.Errorf("expected one RUNNING snapshot, got %+v", snaps.saved)
	}
	if len(clock.waits) != 5 {
		t.Errorf("expected 5 waits between 6 polls, got %d", len(clock.waits))
	}
	for _, d := range clock.waits {
		if d != DefaultInterval {
			t.Errorf("wait = %v, want %v", d, DefaultInterval)
		}
	}
}

func TestWatch_FiltersNotifications(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{}
	m := New(Config{
		Describer: &scriptedDescriber{descs: []*job.Description{
			status(job.StatusRunnable, ""),
			status(job.StatusFailed, ""),
		}},
		Logs:     &fakeLogs{},
		Output:   &bytes.Buffer{},
		Clock:    &fakeClock{},
		Notifier: notifier,
		Events:   []string{job.EventTypeFinished},
	})

	if _, err := m.Watch(context.Background(), "job-1"); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != job.EventTypeFinished {
		t.Errorf("expected only the finished event, got %d events", len(notifier.events))
	}
}

func TestWatch_DrainsLogsWithoutRepeats(t *testing.T) {
	t.Parallel()
	api := &fakeLogs{pages: []*cloudwatchlogs.GetLogEventsOutput{
		logPage("f1", "starting", "working"),
		logPage("f1"),
		logPage("f2", "done"),
		logPage("f2"),
	}}
	var out bytes.Buffer
	m := New(Config{
		Describer: &scriptedDescriber{descs: []*job.Description{
			status(job.StatusRunning, "s1"),
			status(job.StatusSucceeded, "s1"),
		}},
		Logs:   api,
		Output: &out,
		Clock:  &fakeClock{},
	})

	if _, err := m.Watch(context.Background(), "job-1"); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %q", out.String())
	}
	for i, want := range []string{"starting", "working", "done"} {
		if !strings.HasSuffix(lines[i], " "+want) {
			t.Errorf("line %d = %q, want suffix %q", i, lines[i], want)
		}
	}
	if got := aws.ToString(api.calls[2].NextToken); got != "f1" {
		t.Errorf("second drain started from %q, want f1", got)
	}
}

func TestWatch_LogErrorsDoNotStopPolling(t *testing.T) {
	t.Parallel()
	api := &fakeLogs{
		errs:  []error{errors.New("throttled"), errors.New("throttled")},
		pages: []*cloudwatchlogs.GetLogEventsOutput{logPage("f1", "late line")},
	}
	var out bytes.Buffer
	m := New(Config{
		Describer: &scriptedDescriber{descs: []*job.Description{
			status(job.StatusRunning, "s1"),
			status(job.StatusRunning, "s1"),
			status(job.StatusRunning, "s1"),
			status(job.StatusSucceeded, "s1"),
		}},
		Logs:   api,
		Output: &out,
		Clock:  &fakeClock{},
	})

	final, err := m.Watch(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if final.Status != job.StatusSucceeded {
		t.Errorf("final status = %s", final.Status)
	}
	if !strings.Contains(out.String(), "late line") {
		t.Errorf("expected output after recovered reads, got %q", out.String())
	}
}

func TestWatch_OpenBreakerPausesLogs(t *testing.T) {
	t.Parallel()
	api := &fakeLogs{errs: []error{errors.New("denied"), errors.New("denied")}}
	m := New(Config{
		Describer: &scriptedDescriber{descs: []*job.Description{
			status(job.StatusRunning, "s1"),
			status(job.StatusRunning, "s1"),
			status(job.StatusRunning, "s1"),
			status(job.StatusRunning, "s1"),
			status(job.StatusFailed, "s1"),
		}},
		Logs:    api,
		Output:  &bytes.Buffer{},
		Clock:   &fakeClock{},
		Breaker: circuitbreaker.Config{Threshold: 2, Cooldown: time.Hour},
	})

	if _, err := m.Watch(context.Background(), "job-1"); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if len(api.calls) != 2 {
		t.Errorf("expected reads to stop after 2 failures, got %d calls", len(api.calls))
	}
}

func TestWatch_SnapshotErrorIsNotFatal(t *testing.T) {
	t.Parallel()
	snaps := &fakeSnapshots{err: errors.New("registration failed")}
	m := New(Config{
		Describer: &scriptedDescriber{descs: []*job.Description{
			status(job.StatusRunning, ""),
			status(job.StatusSucceeded, ""),
		}},
		Snapshots: snaps,
		Logs:      &fakeLogs{},
		Clock:     &fakeClock{},
	})

	if _, err := m.Watch(context.Background(), "job-1"); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if len(snaps.saved) != 1 {
		t.Errorf("expected a single save attempt, got %d", len(snaps.saved))
	}
}

func TestWatch_Cancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(Config{
		Describer: &scriptedDescriber{descs: []*job.Description{status(job.StatusRunnable, "")}},
		Logs:      &fakeLogs{},
		Clock:     &fakeClock{block: true},
	})

	desc, err := m.Watch(ctx, "job-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if desc == nil || desc.Status != job.StatusRunnable {
		t.Errorf("expected the last observed description, got %+v", desc)
	}
}

func TestWatch_SnapshotEndsWatch(t *testing.T) {
	t.Parallel()
	snaps := &fakeSnapshots{}
	expired := status(job.StatusRunning, "")
	expired.FromSnapshot = true
	describer := &scriptedDescriber{descs: []*job.Description{expired}}
	m := New(Config{Describer: describer, Snapshots: snaps, Logs: &fakeLogs{}, Clock: &fakeClock{}})

	desc, err := m.Watch(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if !desc.FromSnapshot || describer.calls != 1 {
		t.Errorf("expected a single poll returning the snapshot, got %d polls", describer.calls)
	}
	if len(snaps.saved) != 0 {
		t.Error("a snapshot must not be saved again")
	}
}

func TestWatch_DescribeErrorPropagates(t *testing.T) {
	t.Parallel()
	m := New(Config{
		Describer: &scriptedDescriber{err: apperrors.NotFound("job", "job-1")},
		Logs:      &fakeLogs{},
		Clock:     &fakeClock{},
	})
	if _, err := m.Watch(context.Background(), "job-1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
