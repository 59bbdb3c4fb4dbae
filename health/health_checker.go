// Package health answers the liveness probe of the API.
//
// A probe pings the database under a timeout, reports process memory and
// uptime, and fails fast through a circuit breaker while the database is down.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/giygas/todo-api/logging"
	"github.com/giygas/todo-api/respond"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	DefaultTimeout = 3 * time.Second
)

// Pinger is the read-only dependency check; the store implements it
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes a Checker. Zero values take the defaults.
type Options struct {
	Timeout time.Duration
	// Draining reports whether the process is shutting down
	Draining func() bool
	// FailuresToOpen consecutive failed pings open the breaker
	FailuresToOpen uint32
	// OpenFor is how long the breaker stays open before a trial ping
	OpenFor time.Duration
}

// Memory is the process memory section of a healthy report
type Memory struct {
	AllocMB    uint64 `json:"alloc_mb"`
	SysMB      uint64 `json:"sys_mb"`
	Goroutines int    `json:"goroutines"`
}

// Dependency is the database section of a healthy report
type Dependency struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the probe body. Healthy reports carry uptime, memory and
// dependency; unhealthy ones carry only the error.
type Report struct {
	Status        string      `json:"status"`
	Timestamp     string      `json:"timestamp"`
	Uptime        string      `json:"uptime,omitempty"`
	UptimeSeconds *int64      `json:"uptime_seconds,omitempty"`
	Memory        *Memory     `json:"memory,omitempty"`
	Dependency    *Dependency `json:"dependency,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// HTTPStatus is 200 for a healthy report and 503 otherwise
func (r Report) HTTPStatus() int {
	if r.Status == StatusHealthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// Checker runs probes against one Pinger
type Checker struct {
	pinger   Pinger
	timeout  time.Duration
	draining func() bool
	breaker  *gobreaker.CircuitBreaker
	started  time.Time
	now      func() time.Time
}

func NewChecker(pinger Pinger, opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Draining == nil {
		opts.Draining = func() bool { return false }
	}
	if opts.FailuresToOpen == 0 {
		opts.FailuresToOpen = 3
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}

	threshold := opts.FailuresToOpen
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "database",
		MaxRequests: 1,
		Timeout:     opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Health circuit breaker state changed", "dependency", name, "from", from.String(), "to", to.String())
		},
	})

	return &Checker{
		pinger:   pinger,
		timeout:  opts.Timeout,
		draining: opts.Draining,
		breaker:  breaker,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Check probes the dependency. It never takes longer than the timeout,
// even if the pinger ignores its context.
func (c *Checker) Check(ctx context.Context) Report {
	now := c.now()
	timestamp := now.UTC().Format(time.RFC3339)

	if c.draining() {
		return Report{Status: StatusUnhealthy, Timestamp: timestamp, Error: "server is shutting down"}
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.ping(ctx)
	})
	latency := time.Since(start)

	if err != nil {
		return Report{Status: StatusUnhealthy, Timestamp: timestamp, Error: describe(err, c.timeout)}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptime := now.Sub(c.started)
	uptimeSeconds := int64(uptime.Seconds())

	return Report{
		Status:        StatusHealthy,
		Timestamp:     timestamp,
		Uptime:        formatUptimeHuman(uptime),
		UptimeSeconds: &uptimeSeconds,
		Memory: &Memory{
			AllocMB:    m.Alloc / 1024 / 1024,
			SysMB:      m.Sys / 1024 / 1024,
			Goroutines: runtime.NumGoroutine(),
		},
		Dependency: &Dependency{
			Status:    "connected",
			LatencyMS: latency.Milliseconds(),
		},
	}
}

func (c *Checker) ping(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.pinger.Ping(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func describe(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "database unavailable (circuit open)"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("database ping timed out after %s", timeout)
	}
	return "database ping failed: " + logging.Sanitize(err.Error(), 200)
}

// ServeHTTP writes the report with its status code
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := c.Check(r.Context())
	if report.Status != StatusHealthy {
		logging.Warn("Health check failed", "error", report.Error)
	}
	w.Header().Set("Cache-Control", "no-store")
	respond.JSON(w, r, report.HTTPStatus(), report)
}

// formatUptimeHuman formats a duration as "1d 2h 3m 4s", omitting leading zero units
func formatUptimeHuman(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))

	return strings.Join(parts, " ")
}
