// Package shutdown drains the HTTP server and releases resources in order
// when the process is asked to stop.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/giygas/todo-api/logging"
)

// State is the lifecycle phase of the process. It only moves forward.
type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Server is the part of *http.Server the coordinator drives
type Server interface {
	Shutdown(ctx context.Context) error
	Close() error
}

// ActiveCounter reports requests still in flight
type ActiveCounter interface {
	Active() int64
}

// Closer is a named resource released after the server has drained
type Closer struct {
	Name  string
	Close func() error
}

type Options struct {
	Server       Server
	Active       ActiveCounter
	DrainTimeout time.Duration
	PollInterval time.Duration
	// Closers run in order once requests are done
	Closers []Closer
	Exit    func(int)
	Logger  *slog.Logger
}

const (
	DefaultDrainTimeout = 25 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

type Coordinator struct {
	opts  Options
	state atomic.Int32
}

func New(opts Options) *Coordinator {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger()
	}
	return &Coordinator{opts: opts}
}

// State is safe to read from any goroutine
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Draining is true once shutdown has begun; the health probe uses it
func (c *Coordinator) Draining() bool {
	return c.State() != Running
}

// Run blocks until a signal arrives or ctx is done, then drains the server,
// runs the closers and calls Exit(0). Signals received after the first are ignored.
func (c *Coordinator) Run(ctx context.Context, signals <-chan os.Signal) {
	log := c.opts.Logger

	select {
	case sig := <-signals:
		log.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		log.Info("Shutdown requested", "reason", context.Cause(ctx))
	}

	if !c.state.CompareAndSwap(int32(Running), int32(Draining)) {
		log.Warn("Shutdown already in progress")
		return
	}

	done := make(chan struct{})
	defer close(done)
	go c.ignoreSignals(signals, done)

	start := time.Now()
	c.drain()

	for _, closer := range c.opts.Closers {
		if err := closer.Close(); err != nil {
			log.Error("Failed to release resource", "resource", closer.Name, "error", err)
			continue
		}
		log.Info("Released resource", "resource", closer.Name)
	}

	c.state.Store(int32(Stopped))
	log.Info("Shutdown complete", "duration", time.Since(start).String())
	c.opts.Exit(0)
}

func (c *Coordinator) ignoreSignals(signals <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			c.opts.Logger.Warn("Ignoring signal, shutdown already in progress",
				"signal", sig.String(), "state", c.State().String())
		case <-done:
			return
		}
	}
}

// drain stops accepting connections and waits for in-flight requests. When the
// drain timeout passes first, the remaining connections are closed.
func (c *Coordinator) drain() {
	log := c.opts.Logger
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DrainTimeout)
	defer cancel()

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- c.opts.Server.Shutdown(ctx)
	}()

	idle := c.waitIdle(ctx)
	err := <-shutdownErr

	if err == nil && idle {
		log.Info("Server drained")
		return
	}

	remaining := int64(0)
	if c.opts.Active != nil {
		remaining = c.opts.Active.Active()
	}
	log.Warn("Drain timeout exceeded, closing remaining connections",
		"timeout", c.opts.DrainTimeout.String(),
		"in_flight", remaining,
		"error", err)
	if err := c.opts.Server.Close(); err != nil {
		log.Error("Server close error", "error", err)
	}
}

func (c *Coordinator) waitIdle(ctx context.Context) bool {
	if c.opts.Active == nil {
		return true
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		if c.opts.Active.Active() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
