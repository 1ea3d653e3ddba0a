package ratelimit

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/redblackgraph/fscrawl/internal/config"
)

// Phase identifies which side of the crawl a permit is for. The person
// and relationship phases have independent concurrency caps but share
// one aggregate token bucket.
type Phase int

const (
	// PhasePerson covers batched persons fetches.
	PhasePerson Phase = iota

	// PhaseRelationship covers single relationship-record fetches
	// during resolution.
	PhaseRelationship
)

// String returns the phase name for logs.
func (p Phase) String() string {
	if p == PhaseRelationship {
		return "relationship"
	}
	return "person"
}

// Controller paces all outbound HTTP calls. One instance is shared
// across the whole run.
//
// It combines three mechanisms:
//   - a token bucket bounding the aggregate request rate
//   - a weighted semaphore per phase bounding in-flight requests
//   - adaptive backoff: reported throttling halves the effective rate
//     and taxes subsequent acquisitions with a jittered sleep until a
//     success is reported, after which the rate recovers geometrically
//
// Ordering: the controller does not promise FIFO fairness between
// waiters, only the rate and concurrency bounds.
type Controller struct {
	limiter      *rate.Limiter
	person       *semaphore.Weighted
	relationship *semaphore.Weighted

	baseRPS    float64
	maxRetries int
	base       time.Duration
	multiplier float64
	max        time.Duration

	// gate blocks while the run is paused and fails when it is
	// stopped. Nil means no pause integration (tests).
	gate func(ctx context.Context) error

	mu       sync.Mutex
	failures int     // consecutive reported failures
	rps      float64 // current effective rate
}

// Option configures a Controller.
type Option func(*Controller)

// WithGate wires the control plane's pause gate into permit
// acquisition. The gate must block while paused and return an error
// once the run is stopping.
func WithGate(gate func(ctx context.Context) error) Option {
	return func(c *Controller) { c.gate = gate }
}

// New creates a Controller from a throttle profile.
func New(t config.Throttle, opts ...Option) *Controller {
	burst := int(math.Ceil(t.RequestsPerSecond))
	if burst < 1 {
		burst = 1
	}
	c := &Controller{
		limiter:      rate.NewLimiter(rate.Limit(t.RequestsPerSecond), burst),
		person:       semaphore.NewWeighted(int64(t.PersonConcurrency)),
		relationship: semaphore.NewWeighted(int64(t.RelationshipConcurrency)),
		baseRPS:      t.RequestsPerSecond,
		rps:          t.RequestsPerSecond,
		maxRetries:   t.MaxRetries,
		base:         t.BackoffBase,
		multiplier:   t.BackoffMultiplier,
		max:          t.BackoffMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxRetries returns how many times a throttled or transient request
// may be retried before it is failed permanently.
func (c *Controller) MaxRetries() int { return c.maxRetries }

// Acquire blocks until a permit is available for the phase: the pause
// gate is open, a concurrency slot is free, any backoff penalty has
// been served, and the token bucket has a token. The returned release
// function must be called exactly once when the request finishes.
func (c *Controller) Acquire(ctx context.Context, phase Phase) (release func(), err error) {
	if c.gate != nil {
		if err := c.gate(ctx); err != nil {
			return nil, err
		}
	}

	sem := c.person
	if phase == PhaseRelationship {
		sem = c.relationship
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if delay := c.penalty(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			sem.Release(1)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		sem.Release(1)
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// penalty returns the extra sleep owed while the controller is in
// degraded mode, or zero in the steady state.
func (c *Controller) penalty() time.Duration {
	c.mu.Lock()
	failures := c.failures
	c.mu.Unlock()
	if failures == 0 {
		return 0
	}
	return c.BackoffDelay(failures)
}

// BackoffDelay computes the delay before the n-th consecutive retry
// (n >= 1): base * multiplier^(n-1), capped at the profile maximum,
// with jitter spread upward so the delay is never below the uncapped
// schedule.
func (c *Controller) BackoffDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(c.base) * math.Pow(c.multiplier, float64(n-1))
	capped := math.Min(d, float64(c.max))
	headroom := math.Min(capped, float64(c.max)-capped)
	return time.Duration(capped + rand.Float64()*headroom)
}

// ReportFailure tells the controller a request came back throttled
// (429/5xx). Each report halves the effective rate, floored at a
// token every backoff_max interval, and arms the acquisition penalty.
func (c *Controller) ReportFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	floor := 1.0 / c.max.Seconds()
	c.rps = math.Max(c.rps/2, floor)
	c.limiter.SetLimit(rate.Limit(c.rps))
}

// ReportSuccess tells the controller a request succeeded. The penalty
// is cleared and the effective rate recovers geometrically toward the
// configured rate.
func (c *Controller) ReportSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	if c.rps < c.baseRPS {
		c.rps = math.Min(c.rps*2, c.baseRPS)
		c.limiter.SetLimit(rate.Limit(c.rps))
	}
}

// EffectiveRate reports the current rate limit in requests per second.
func (c *Controller) EffectiveRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rps
}
