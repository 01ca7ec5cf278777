package notify

import (
	"time"
)

// Delivery defaults that rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultInitialBackoff   = 100 * time.Millisecond
	defaultMaxBackoff       = 5 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultDeliverTimeout   = 30 * time.Second
)

// Config holds configuration for the webhook notifier.
type Config struct {
	URL         string        // webhook endpoint; empty disables notifications
	SigningKey  string        // HMAC key; empty sends unsigned
	Source      string        // CloudEvent source (default: batchctl)
	BufferSize  int           // pending events buffer (default: 256)
	Workers     int           // concurrent delivery goroutines (default: 2)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	RetryDelay  time.Duration // first retry delay, doubled per attempt (default: 100ms)
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = "batchctl"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultInitialBackoff
	}
	return c
}
