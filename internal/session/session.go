package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// sessionCookie is the cookie FamilySearch issues at login.
const sessionCookie = "fssessionid"

// maxBodySize caps response bodies. A 200-person payload runs well
// under a megabyte; anything near this limit is the service
// misbehaving.
const maxBodySize = 16 * 1024 * 1024

// Session is a thin wrapper over an authenticated HTTP client. It
// issues GETs against the FamilySearch platform, classifies every
// response into the retry taxonomy, and counts requests.
//
// Design decision: The session never logs in. Credential acquisition
// lives outside the core; the engine only consumes a session that can
// already issue authenticated GETs. That keeps OAuth churn out of the
// crawl loop and makes the whole engine testable against httptest.
type Session struct {
	client    *http.Client
	baseURL   string
	sessionID string
	userAgent string

	// counter is the monotonic request count, shared across goroutines.
	counter atomic.Int64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHTTPClient substitutes the underlying HTTP client. Tests use
// this to point the session at a canned server transport.
func WithHTTPClient(client *http.Client) SessionOption {
	return func(s *Session) { s.client = client }
}

// WithTimeout sets the per-request timeout. Exceeding it classifies as
// a transient failure.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.client.Timeout = d }
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) SessionOption {
	return func(s *Session) { s.userAgent = ua }
}

// New creates a Session for the given platform base URL and
// pre-established session identifier.
func New(baseURL, sessionID string, opts ...SessionOption) *Session {
	s := &Session{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		userAgent: "fscrawl/1.0 (+https://github.com/redblackgraph/fscrawl)",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Counter returns the number of requests issued so far.
func (s *Session) Counter() int64 {
	return s.counter.Load()
}

// Get fetches path (relative to the base URL) and returns the body on
// success. A 204 returns (nil, nil). Every failure is classified:
// 401 wraps ErrAuthExpired, 429/5xx return *ThrottledError, other 4xx
// return *PermanentError, and transport errors return *TransientError.
func (s *Session) Get(ctx context.Context, path string) ([]byte, error) {
	url := s.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: s.sessionID})

	s.counter.Add(1)

	resp, err := s.client.Do(req)
	if err != nil {
		// Context cancellation is the caller stopping the run, not a
		// network fault; surface it untranslated.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, &TransientError{Err: err}
		}
		return body, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: GET %s returned 401", ErrAuthExpired, url)

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &ThrottledError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	default:
		return nil, &PermanentError{StatusCode: resp.StatusCode, URL: url}
	}
}

// GetJSON fetches path and decodes the JSON body into v. A decode
// failure on a 2xx body is a corrupt payload, reported as a permanent
// condition via the returned error so the caller can skip the record.
func (s *Session) GetJSON(ctx context.Context, path string, v any) error {
	body, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	if body == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("corrupt payload from %s: %w", path, err)
	}
	return nil
}

// CurrentUserID fetches the person ID of the session owner. Used as
// the default seed when a fresh run starts with no seeds.
func (s *Session) CurrentUserID(ctx context.Context) (string, error) {
	var payload struct {
		Users []struct {
			PersonID string `json:"personId"`
		} `json:"users"`
	}
	if err := s.GetJSON(ctx, "/platform/users/current.json", &payload); err != nil {
		return "", err
	}
	if len(payload.Users) == 0 || payload.Users[0].PersonID == "" {
		return "", fmt.Errorf("current user response carried no person id")
	}
	return payload.Users[0].PersonID, nil
}

// parseRetryAfter reads a Retry-After header value in seconds form.
// HTTP-date form is rare from this service and falls back to zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
