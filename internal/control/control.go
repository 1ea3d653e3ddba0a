package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by Gate once a stop has been requested. It
// wraps context.Canceled so callers classifying cancellation treat a
// graceful stop the same way.
var ErrStopped = fmt.Errorf("crawl stopping: %w", context.Canceled)

// Controller is the run's control plane: a pause latch plus a stop
// cancelation, driven by signals and an optional control file.
//
// Pausing does not cancel in-flight requests. It closes the gate that
// new permit acquisitions pass through, so in-flight work drains
// naturally and the run quiesces within one request round-trip.
//
// Stopping works the same way, with a deadline: the gate fails
// immediately so no new requests start, and the run context is hard-
// canceled only after the grace period, bounding how long in-flight
// fetches may keep draining.
type Controller struct {
	logger *slog.Logger
	stop   context.CancelFunc
	grace  time.Duration

	// onTransition, when set, observes live pause state changes.
	onTransition func(paused bool)

	mu       sync.Mutex
	paused   bool
	stopping bool
	resumed  chan struct{} // closed while running, open while paused
}

// Option configures a Controller.
type Option func(*Controller)

// WithGrace sets how long in-flight requests may drain after a stop
// before the run context is canceled. Zero cancels immediately.
func WithGrace(d time.Duration) Option {
	return func(c *Controller) { c.grace = d }
}

// WithTransitionHook registers fn, called with true when the run
// pauses and false when it resumes. The hook runs outside the
// controller lock, on the goroutine that delivered the command. A stop
// does not invoke it; terminal state is the engine's to record.
func WithTransitionHook(fn func(paused bool)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

// New creates a Controller. stop is invoked when a stop command
// arrives; it is typically the cancel function of the run context.
func New(logger *slog.Logger, stop context.CancelFunc, opts ...Option) *Controller {
	resumed := make(chan struct{})
	close(resumed)
	c := &Controller{
		logger:  logger,
		stop:    stop,
		resumed: resumed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pause closes the gate. Idempotent; a no-op once stopping.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.paused || c.stopping {
		c.mu.Unlock()
		return
	}
	c.paused = true
	c.resumed = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info("crawl paused")
	if c.onTransition != nil {
		c.onTransition(true)
	}
}

// Resume opens the gate. Idempotent.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = false
	close(c.resumed)
	c.mu.Unlock()

	c.logger.Info("crawl resumed")
	if c.onTransition != nil {
		c.onTransition(false)
	}
}

// Toggle flips between paused and running. Wired to SIGUSR1.
func (c *Controller) Toggle() {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if paused {
		c.Resume()
	} else {
		c.Pause()
	}
}

// Stop requests a graceful shutdown. The gate fails from here on;
// paused waiters are released so they observe the stop. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	if c.paused {
		c.paused = false
		close(c.resumed)
	}
	grace := c.grace
	c.mu.Unlock()

	if grace <= 0 {
		c.logger.Info("stop requested")
		c.stop()
		return
	}
	c.logger.Info("stop requested, draining in-flight work", "grace", grace)
	time.AfterFunc(grace, c.stop)
}

// Paused reports whether the gate is currently closed.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Gate blocks while the run is paused and fails once the run is
// stopping. It is handed to the rate controller so every permit
// acquisition passes through it.
func (c *Controller) Gate(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.stopping {
			c.mu.Unlock()
			return ErrStopped
		}
		if !c.paused {
			c.mu.Unlock()
			return ctx.Err()
		}
		ch := c.resumed
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
