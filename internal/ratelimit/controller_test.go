package ratelimit

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/redblackgraph/fscrawl/internal/config"
)

// testThrottle returns a profile fast enough that the token bucket
// never stalls a test.
func testThrottle() config.Throttle {
	return config.Throttle{
		RequestsPerSecond:       1000,
		PersonConcurrency:       2,
		RelationshipConcurrency: 1,
		MaxRetries:              3,
		BackoffBase:             10 * time.Millisecond,
		BackoffMultiplier:       2.0,
		BackoffMax:              80 * time.Millisecond,
	}
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()
	c := New(testThrottle())
	ctx := context.Background()

	// The relationship phase has one slot; holding it must block the
	// next waiter until release.
	release, err := c.Acquire(ctx, PhaseRelationship)
	if err != nil {
		t.Fatal(err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(blocked, PhaseRelationship); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second acquire err = %v, want deadline exceeded", err)
	}

	// Phases are independent: a person permit is still available.
	personRelease, err := c.Acquire(ctx, PhasePerson)
	if err != nil {
		t.Fatal(err)
	}
	personRelease()

	release()
	release, err = c.Acquire(ctx, PhaseRelationship)
	if err != nil {
		t.Fatal(err)
	}
	release()
}

func TestAcquireGate(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("stopping")
	c := New(testThrottle(), WithGate(func(context.Context) error { return wantErr }))

	if _, err := c.Acquire(context.Background(), PhasePerson); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want gate error", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	c := New(testThrottle())

	tests := []struct {
		name     string
		attempt  int
		uncapped time.Duration
	}{
		{name: "first retry", attempt: 1, uncapped: 10 * time.Millisecond},
		{name: "second retry", attempt: 2, uncapped: 20 * time.Millisecond},
		{name: "third retry", attempt: 3, uncapped: 40 * time.Millisecond},
		{name: "capped", attempt: 10, uncapped: 80 * time.Millisecond},
		{name: "attempt below one is clamped", attempt: 0, uncapped: 10 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// Jitter only spreads the delay upward, never past the cap.
			for range 50 {
				d := c.BackoffDelay(tt.attempt)
				if d < tt.uncapped {
					t.Fatalf("delay %v below schedule %v", d, tt.uncapped)
				}
				if d > 80*time.Millisecond {
					t.Fatalf("delay %v above cap", d)
				}
			}
		})
	}
}

func TestAdaptiveRate(t *testing.T) {
	t.Parallel()
	throttle := testThrottle()
	throttle.RequestsPerSecond = 8
	c := New(throttle)

	c.ReportFailure()
	if got := c.EffectiveRate(); got != 4 {
		t.Errorf("rate after one failure = %v, want 4", got)
	}
	c.ReportFailure()
	if got := c.EffectiveRate(); got != 2 {
		t.Errorf("rate after two failures = %v, want 2", got)
	}

	// Halving bottoms out at one token per backoff_max interval.
	for range 20 {
		c.ReportFailure()
	}
	floor := 1.0 / throttle.BackoffMax.Seconds()
	if got := c.EffectiveRate(); math.Abs(got-floor) > 1e-9 {
		t.Errorf("rate floor = %v, want %v", got, floor)
	}

	// Successes double the rate back up to, and not past, the
	// configured rate.
	for range 30 {
		c.ReportSuccess()
	}
	if got := c.EffectiveRate(); got != 8 {
		t.Errorf("recovered rate = %v, want 8", got)
	}
}

func TestAcquirePenaltyAfterFailure(t *testing.T) {
	t.Parallel()
	c := New(testThrottle())
	ctx := context.Background()

	c.ReportFailure()
	start := time.Now()
	release, err := c.Acquire(ctx, PhasePerson)
	if err != nil {
		t.Fatal(err)
	}
	release()
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("acquire took %v, want at least the base backoff", elapsed)
	}

	// A reported success clears the penalty.
	c.ReportSuccess()
	start = time.Now()
	release, err = c.Acquire(ctx, PhasePerson)
	if err != nil {
		t.Fatal(err)
	}
	release()
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("acquire took %v after recovery, want no penalty", elapsed)
	}
}

func TestMaxRetries(t *testing.T) {
	t.Parallel()
	c := New(testThrottle())
	if got := c.MaxRetries(); got != 3 {
		t.Errorf("max retries = %d, want 3", got)
	}
}
