// Package health checks the services batchctl depends on.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ReadinessChecker reports whether a dependency can serve requests.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// ReadinessFunc adapts a function to ReadinessChecker.
type ReadinessFunc func(ctx context.Context) error

func (f ReadinessFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Required bool   `json:"required"`
	Latency  string `json:"latency,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

type dependency struct {
	checker  ReadinessChecker
	required bool
}

// Checker runs readiness checks against registered dependencies. A failed
// required dependency makes the service unhealthy; a failed optional one
// only degrades it.
type Checker struct {
	timeout  time.Duration
	cacheTTL time.Duration

	mu           sync.RWMutex
	deps         map[string]dependency
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a health checker with no dependencies.
func NewChecker() *Checker {
	return &Checker{
		timeout:  5 * time.Second,
		cacheTTL: time.Second,
		deps:     make(map[string]dependency),
	}
}

// Require registers a dependency whose failure makes readiness unhealthy.
func (c *Checker) Require(name string, checker ReadinessChecker) {
	c.add(name, checker, true)
}

// Optional registers a dependency whose failure only degrades readiness.
func (c *Checker) Optional(name string, checker ReadinessChecker) {
	c.add(name, checker, false)
}

func (c *Checker) add(name string, checker ReadinessChecker, required bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps[name] = dependency{checker: checker, required: required}
	c.cachedReady = nil
}

// Names returns the registered dependency names in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.deps))
	for name := range c.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Liveness reports that the process is up. It never calls dependencies.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness checks every dependency concurrently. Results are cached briefly
// so readiness polling does not hammer the cloud APIs.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down", Required: true},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheTTL {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	deps := make(map[string]dependency, len(c.deps))
	for name, d := range c.deps {
		deps[name] = d
	}
	c.mu.RUnlock()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(deps))}
	if len(deps) == 0 {
		response.Status = StatusUnhealthy
		response.Checks["dependencies"] = CheckResult{Status: StatusUnhealthy, Message: "no dependencies configured", Required: true}
		return response
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, d := range deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.check(ctx, d)
			mu.Lock()
			response.Checks[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, result := range response.Checks {
		if result.Status == StatusHealthy {
			continue
		}
		if result.Required {
			response.Status = StatusUnhealthy
		} else if response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) check(ctx context.Context, d dependency) CheckResult {
	if d.checker == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not configured", Required: d.required}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := d.checker.Ready(ctx)
	latency := time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error(), Required: d.required, Latency: latency}
	}
	return CheckResult{Status: StatusHealthy, Required: d.required, Latency: latency}
}

// SetShuttingDown makes readiness fail immediately from now on.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
