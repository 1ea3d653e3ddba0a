package fsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redblackgraph/fscrawl/internal/model"
	"github.com/redblackgraph/fscrawl/internal/ratelimit"
	"github.com/redblackgraph/fscrawl/internal/session"
)

// Client issues tree reads against the FamilySearch platform, paced by
// the shared rate controller. It owns the retry loop: throttled and
// transient failures are retried with backoff up to the controller's
// budget, everything else surfaces to the caller untranslated.
type Client struct {
	session *session.Session
	rate    *ratelimit.Controller
	logger  *slog.Logger
}

// NewClient creates a Client on an authenticated session.
func NewClient(s *session.Session, rate *ratelimit.Controller, logger *slog.Logger) *Client {
	return &Client{session: s, rate: rate, logger: logger}
}

// Requests reports how many HTTP requests the underlying session has
// issued so far. Telemetry events carry it so an operator can correlate
// progress with request spend.
func (c *Client) Requests() int64 {
	return c.session.Counter()
}

// FetchPersons fetches and parses one batch of persons. The caller is
// responsible for keeping len(pids) within the service's 200-pid cap.
func (c *Client) FetchPersons(ctx context.Context, pids []model.PID) (*PersonsResult, error) {
	joined := make([]string, 0, len(pids))
	for _, pid := range pids {
		joined = append(joined, string(pid))
	}
	path := "/platform/tree/persons/.json?pids=" + strings.Join(joined, ",")

	body, err := c.get(ctx, ratelimit.PhasePerson, path)
	if err != nil {
		return nil, err
	}
	if body == nil {
		// 204: none of the requested pids exist anymore.
		return &PersonsResult{}, nil
	}
	return ParsePersons(body, c.logger)
}

// FetchRelationship fetches and parses one child-and-parents record.
func (c *Client) FetchRelationship(ctx context.Context, relID string) (*ResolvedRelationship, error) {
	path := "/platform/tree/child-and-parents-relationships/" + relID + ".json"

	body, err := c.get(ctx, ratelimit.PhaseRelationship, path)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("relationship %s no longer exists", relID)
	}
	return ParseRelationship(body, c.logger)
}

// get runs one request through the permit/retry loop.
//
// Throttled responses feed the controller's adaptive backoff and honor
// a Retry-After that exceeds the local schedule. Transient transport
// failures retry on the same schedule without degrading the shared
// rate. Auth expiry, permanent failures, and context cancellation
// return immediately.
func (c *Client) get(ctx context.Context, phase ratelimit.Phase, path string) ([]byte, error) {
	attempt := 0
	for {
		release, err := c.rate.Acquire(ctx, phase)
		if err != nil {
			return nil, err
		}
		body, err := c.session.Get(ctx, path)
		release()

		switch {
		case err == nil:
			c.rate.ReportSuccess()
			return body, nil

		case errors.Is(err, session.ErrAuthExpired):
			return nil, err

		case session.IsThrottled(err):
			c.rate.ReportFailure()
			attempt++
			if attempt > c.rate.MaxRetries() {
				return nil, fmt.Errorf("retry budget exhausted for %s %s: %w", phase, path, err)
			}
			delay := c.rate.BackoffDelay(attempt)
			var throttled *session.ThrottledError
			if errors.As(err, &throttled) && throttled.RetryAfter > delay {
				delay = throttled.RetryAfter
			}
			c.logger.Warn("request throttled, backing off",
				slog.String("phase", phase.String()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Float64("effective_rps", c.rate.EffectiveRate()))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}

		case session.IsTransient(err):
			attempt++
			if attempt > c.rate.MaxRetries() {
				return nil, fmt.Errorf("retry budget exhausted for %s %s: %w", phase, path, err)
			}
			delay := c.rate.BackoffDelay(attempt)
			c.logger.Warn("transient failure, retrying",
				slog.String("phase", phase.String()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
