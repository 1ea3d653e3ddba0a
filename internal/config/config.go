package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// These are derived from FamilySearch API characteristics and from the
// operational defaults of the original crawler where applicable.
const (
	// DefaultBaseURL is the FamilySearch platform endpoint.
	DefaultBaseURL = "https://familysearch.org"

	// DefaultHopCount is the number of BFS hops from the seed set.
	// Four hops reaches great-great-grandparents and their children,
	// which covers the common "pedigree plus siblings" use case.
	DefaultHopCount = 4

	// DefaultPersonsPerRequest is the maximum number of person IDs in
	// one persons request. 200 is the documented ceiling of the
	// Persons resource; larger values are rejected by the service.
	DefaultPersonsPerRequest = 200

	// DefaultRequestsPerSecond is the aggregate outbound request rate
	// across the person and relationship phases. FamilySearch throttles
	// aggressively; 5 rps is sustainable on a normal account.
	DefaultRequestsPerSecond = 5.0

	// DefaultPersonConcurrency caps in-flight persons requests.
	DefaultPersonConcurrency = 20

	// DefaultRelationshipConcurrency caps in-flight relationship
	// requests. Relationship fetches are one record per request, so a
	// higher cap than the person phase would only trip the throttle.
	DefaultRelationshipConcurrency = 20

	// DefaultMaxRetries is how many times a throttled or transient
	// failure is retried before the batch is failed permanently.
	DefaultMaxRetries = 5

	// DefaultBackoffBase is the first adaptive backoff delay.
	DefaultBackoffBase = 2 * time.Second

	// DefaultBackoffMultiplier grows the backoff delay per consecutive
	// failure.
	DefaultBackoffMultiplier = 2.0

	// DefaultBackoffMax caps the adaptive backoff delay.
	DefaultBackoffMax = 2 * time.Minute

	// DefaultInterBatchDelay is the legacy politeness floor between
	// batch dispatches, applied in addition to the token bucket.
	DefaultInterBatchDelay = 0 * time.Second

	// DefaultRequestTimeout is the per-request HTTP timeout. Exceeding
	// it is classified as a transient failure.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultCheckpointEvery is the number of processed persons
	// payloads between mid-iteration commit checkpoints. A crash
	// mid-hop loses at most this many payloads of work.
	DefaultCheckpointEvery = 8

	// DefaultCheckpointInterval forces a checkpoint when a hop has
	// been idle this long.
	DefaultCheckpointInterval = 60 * time.Second

	// DefaultShutdownGrace is how long in-flight fetches may run after
	// a stop request before their PIDs are returned to the frontier.
	DefaultShutdownGrace = 30 * time.Second

	// DefaultPauseFilePollInterval is how often the control file is
	// polled for pause/resume/stop commands.
	DefaultPauseFilePollInterval = 1 * time.Second

	// AppName is the application name used for XDG directory paths.
	AppName = "fscrawl"
)

// Config holds all configuration for a crawl run.
// It is populated from CLI flags (plus an optional throttle profile
// file) and passed through the application by dependency injection
// rather than global state.
//
// Design decision: We use a single flat struct instead of nested
// structs (CrawlConfig, ThrottleConfig, ...) for simplicity. The number
// of options is manageable, and nesting would add complexity without
// significant benefit.
type Config struct {
	// OutDir is the directory holding the database and sidecar files.
	OutDir string

	// Basename names the database file: <OutDir>/<Basename>.db.
	Basename string

	// BaseURL is the FamilySearch platform endpoint.
	BaseURL string

	// SessionID is a pre-established FamilySearch session identifier.
	// Credential acquisition is out of scope; the crawler only consumes
	// an already-authenticated session.
	SessionID string

	// Seeds are the starting person IDs. Ignored on resume. When empty
	// on a fresh run, the session owner's own person ID is used.
	Seeds []string

	// HopCount is the number of BFS hops to crawl from the seed set.
	HopCount int

	// PersonsPerRequest is the batch size for persons requests.
	PersonsPerRequest int

	// DrainLimit bounds how many frontier entries one iteration
	// promotes into the processing set. Zero means the whole frontier.
	DrainLimit int

	// Throttle is the outbound request pacing profile.
	Throttle Throttle

	// InterBatchDelay is an additional politeness delay between batch
	// dispatches.
	InterBatchDelay time.Duration

	// RequestTimeout is the per-request HTTP timeout.
	RequestTimeout time.Duration

	// CheckpointEvery is the number of processed payloads between
	// mid-iteration checkpoints.
	CheckpointEvery int

	// CheckpointInterval forces a checkpoint when a hop idles this long.
	CheckpointInterval time.Duration

	// ShutdownGrace bounds how long in-flight work may drain on stop.
	ShutdownGrace time.Duration

	// PauseFile, when set, is polled for pause/resume/stop commands.
	PauseFile string

	// MetricsFile receives JSON-lines telemetry events. "-" means
	// stdout; empty disables the stream.
	MetricsFile string

	// Verbose enables slog.LevelDebug output.
	Verbose bool

	// Resume requires an existing database and ignores Seeds.
	Resume bool
}

// Throttle is the outbound request pacing profile shared by the person
// and relationship phases.
type Throttle struct {
	// RequestsPerSecond is the aggregate rate cap across all phases.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// PersonConcurrency caps in-flight persons requests.
	PersonConcurrency int `yaml:"max_concurrent_person_requests"`

	// RelationshipConcurrency caps in-flight relationship requests.
	RelationshipConcurrency int `yaml:"max_concurrent_relationship_requests"`

	// MaxRetries bounds retry attempts per request.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is the first adaptive backoff delay.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMultiplier grows the delay per consecutive failure.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// BackoffMax caps the adaptive backoff delay.
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// DefaultThrottle returns the standard pacing profile.
func DefaultThrottle() Throttle {
	return Throttle{
		RequestsPerSecond:       DefaultRequestsPerSecond,
		PersonConcurrency:       DefaultPersonConcurrency,
		RelationshipConcurrency: DefaultRelationshipConcurrency,
		MaxRetries:              DefaultMaxRetries,
		BackoffBase:             DefaultBackoffBase,
		BackoffMultiplier:       DefaultBackoffMultiplier,
		BackoffMax:              DefaultBackoffMax,
	}
}

// NewConfig creates a Config with default values.
//
// Design decision: We use a constructor instead of relying on zero
// values because many defaults are non-zero. The constructor also
// serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		OutDir:             XDGDataDir(),
		Basename:           "fscrawl",
		BaseURL:            DefaultBaseURL,
		HopCount:           DefaultHopCount,
		PersonsPerRequest:  DefaultPersonsPerRequest,
		Throttle:           DefaultThrottle(),
		InterBatchDelay:    DefaultInterBatchDelay,
		RequestTimeout:     DefaultRequestTimeout,
		CheckpointEvery:    DefaultCheckpointEvery,
		CheckpointInterval: DefaultCheckpointInterval,
		ShutdownGrace:      DefaultShutdownGrace,
	}
}

// XDGDataDir returns the XDG data directory for fscrawl.
// On Linux: ~/.local/share/fscrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Validate checks the configuration and returns the first problem
// found. Called once after CLI parsing, before anything touches the
// network or the database.
func (c *Config) Validate() error {
	if c.Basename == "" {
		return ErrNoBasename
	}
	if c.SessionID == "" {
		return ErrNoSession
	}
	if c.HopCount < 0 {
		return ErrInvalidHopCount
	}
	if c.PersonsPerRequest <= 0 || c.PersonsPerRequest > DefaultPersonsPerRequest {
		return ErrInvalidBatchSize
	}
	if c.Throttle.RequestsPerSecond <= 0 {
		return ErrInvalidRate
	}
	if c.Throttle.PersonConcurrency <= 0 || c.Throttle.RelationshipConcurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.Throttle.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	if c.Throttle.BackoffBase <= 0 || c.Throttle.BackoffMultiplier < 1 || c.Throttle.BackoffMax < c.Throttle.BackoffBase {
		return ErrInvalidBackoff
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.CheckpointEvery <= 0 {
		return ErrInvalidCheckpoint
	}
	return nil
}
