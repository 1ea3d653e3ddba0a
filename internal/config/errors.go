package config

import "errors"

// Configuration validation errors.
// These are returned by Config.Validate() and name the specific field
// that is wrong.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to
// use errors.Is() for programmatic handling while still providing
// human-readable messages.
var (
	// ErrNoBasename is returned when no database basename is given.
	ErrNoBasename = errors.New("no basename specified: the database is named <outdir>/<basename>.db")

	// ErrNoSession is returned when no FamilySearch session ID is
	// available. The crawler does not log in by itself.
	ErrNoSession = errors.New("no session: provide --session or set FS_SESSION_ID")

	// ErrInvalidHopCount is returned when the hop count is negative.
	ErrInvalidHopCount = errors.New("invalid hop count: must be non-negative")

	// ErrInvalidBatchSize is returned when persons-per-request is out
	// of the range the Persons resource accepts (1..200).
	ErrInvalidBatchSize = errors.New("invalid persons per request: must be between 1 and 200")

	// ErrInvalidRate is returned when the aggregate request rate is
	// not positive.
	ErrInvalidRate = errors.New("invalid requests per second: must be positive")

	// ErrInvalidConcurrency is returned when a phase concurrency cap
	// is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: phase caps must be positive")

	// ErrInvalidRetries is returned when the retry count is negative.
	ErrInvalidRetries = errors.New("invalid max retries: must be non-negative")

	// ErrInvalidBackoff is returned when the backoff profile is
	// inconsistent (non-positive base, multiplier below 1, or a cap
	// below the base).
	ErrInvalidBackoff = errors.New("invalid backoff profile: base must be positive, multiplier >= 1, max >= base")

	// ErrInvalidTimeout is returned when the request timeout is not
	// positive.
	ErrInvalidTimeout = errors.New("invalid request timeout: must be positive")

	// ErrInvalidCheckpoint is returned when the payload checkpoint
	// cadence is not positive.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint cadence: must be positive")
)
