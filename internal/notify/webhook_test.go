package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"batchctl/internal/testutil"
	"batchctl/pkg/cloudevent"
)

func testEvent() *cloudevent.CloudEvent {
	return cloudevent.New("batchctl.job.status", "batchctl", "job-1", map[string]any{"status": "RUNNING"})
}

func newTestWebhook(url string, workers int) *Webhook {
	return NewWebhook(Config{
		URL:         url,
		BufferSize:  100,
		Workers:     workers,
		HTTPTimeout: 5 * time.Second,
		RetryDelay:  time.Millisecond,
	}, nil)
}

func closeWebhook(t *testing.T, w *Webhook) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestWebhook_Notify(t *testing.T) {
	t.Parallel()
	r := testutil.NewReceiver(t, nil)

	w := newTestWebhook(r.URL, 2)
	if err := w.Notify(testEvent()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	testutil.MustWaitFor(t, func() bool {
		return w.Stats().Delivered >= 1
	})

	got := r.Deliveries()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Subject != "job-1" || !strings.Contains(string(got[0].Body), `"RUNNING"`) {
		t.Errorf("unexpected delivery %+v", got[0])
	}
	closeWebhook(t, w)
}

func TestWebhook_Retry(t *testing.T) {
	t.Parallel()
	r := testutil.NewReceiver(t, testutil.FailFirst(2, http.StatusServiceUnavailable))

	w := newTestWebhook(r.URL, 1)
	_ = w.Notify(testEvent())

	testutil.MustWaitFor(t, func() bool {
		return w.Stats().Delivered >= 1
	})

	if r.Attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", r.Attempts())
	}
	if w.Stats().RetriesTotal != 2 {
		t.Errorf("expected 2 retries, got %d", w.Stats().RetriesTotal)
	}
	closeWebhook(t, w)
}

func TestWebhook_NoRetryOn4xx(t *testing.T) {
	t.Parallel()
	r := testutil.NewReceiver(t, testutil.Always(http.StatusBadRequest))

	w := newTestWebhook(r.URL, 1)
	_ = w.Notify(testEvent())

	testutil.MustWaitFor(t, func() bool {
		return w.Stats().Failed >= 1
	})

	if r.Attempts() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", r.Attempts())
	}
	closeWebhook(t, w)
}

func TestWebhook_CircuitOpenDrops(t *testing.T) {
	t.Parallel()
	r := testutil.NewReceiver(t, testutil.Always(http.StatusServiceUnavailable))

	w := newTestWebhook(r.URL, 1)
	for range 10 {
		_ = w.Notify(testEvent())
	}

	testutil.MustWaitFor(t, func() bool {
		s := w.Stats()
		return s.Failed+s.Dropped >= 10
	}, testutil.WithTimeout(10*time.Second))

	s := w.Stats()
	if s.Failed != defaultBreakerThreshold || s.Dropped != 10-defaultBreakerThreshold {
		t.Errorf("expected %d failed then drops, got failed=%d dropped=%d", defaultBreakerThreshold, s.Failed, s.Dropped)
	}
	closeWebhook(t, w)
}

func TestWebhook_Signature(t *testing.T) {
	t.Parallel()
	r := testutil.NewReceiver(t, nil)

	w := NewWebhook(Config{URL: r.URL, SigningKey: "secret-key", RetryDelay: time.Millisecond}, nil)
	_ = w.Notify(testEvent())

	testutil.MustWaitFor(t, func() bool {
		return w.Stats().Delivered >= 1
	})

	d := r.Deliveries()[0]
	if !strings.HasPrefix(d.Signature, "sha256=") {
		t.Errorf("unexpected signature format: %s", d.Signature)
	}
	if d.Signature != cloudevent.Sign(d.Body, "secret-key") {
		t.Error("signature does not cover the delivered body")
	}
	if d.Type != "batchctl.job.status" {
		t.Errorf("expected Ce-Type header, got %s", d.Type)
	}
	closeWebhook(t, w)
}

func TestWebhook_GracefulShutdown(t *testing.T) {
	t.Parallel()
	r := testutil.NewReceiver(t, nil)

	w := newTestWebhook(r.URL, 2)
	for range 10 {
		_ = w.Notify(testEvent())
	}
	closeWebhook(t, w)

	if r.Attempts() != 10 {
		t.Errorf("expected 10 deliveries, got %d", r.Attempts())
	}
	if err := w.Notify(testEvent()); !errors.Is(err, ErrClosed) {
		t.Errorf("Notify after Close = %v, want ErrClosed", err)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestNew_WithoutURLIsNop(t *testing.T) {
	t.Parallel()
	n := New(Config{}, nil)
	if _, ok := n.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", n)
	}
	if err := n.Notify(testEvent()); err != nil {
		t.Errorf("Nop.Notify = %v", err)
	}
}

func TestExtractHost(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		rawURL   string
		expected string
	}{
		{"standard URL with port", "http://localhost:8080/webhook", "localhost:8080"},
		{"HTTPS URL without port", "https://example.com/callback", "example.com"},
		{"token in path is hidden", "https://hooks.example.com/T000/B000/secret", "hooks.example.com"},
		{"malformed URL returns raw input", "://invalid", "://invalid"},
		{"empty URL returns empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extractHost(tt.rawURL); got != tt.expected {
				t.Errorf("extractHost(%q) = %q, want %q", tt.rawURL, got, tt.expected)
			}
		})
	}
}
