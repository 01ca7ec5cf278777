// Package testutil holds helpers for tests that observe background work.
package testutil

import (
	"testing"
	"time"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultInterval = 10 * time.Millisecond
)

type waitOptions struct {
	timeout  time.Duration
	interval time.Duration
}

// WaitOption adjusts MustWaitFor.
type WaitOption func(*waitOptions)

// WithTimeout sets how long MustWaitFor polls (default 5s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.timeout = d }
}

// MustWaitFor polls condition until it holds and fails tb if it never does.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	o := waitOptions{timeout: defaultTimeout, interval: defaultInterval}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.timeout)
	for !condition() {
		if time.Now().After(deadline) {
			tb.Fatalf("condition not met within %s", o.timeout)
		}
		time.Sleep(o.interval)
	}
}
