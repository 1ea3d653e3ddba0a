package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/redblackgraph/fscrawl/internal/config"
)

// CrawlDB is the durable crawl state store: a single SQLite file
// holding the vertex and edge tables, the frontier and processing
// queues, the per-iteration log, and job metadata.
//
// Design decision: We keep everything in one database file rather than
// the CSV sidecar files the first generation of the crawler used. A
// single transactional store is what makes crash-restart resume
// possible at all; the old CSV layout needed a separate migration tool
// to become readable again after an unclean shutdown.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging. Required for crash-safe
	// mid-iteration checkpoints; disable only in tests that exercise
	// rollback-journal behavior.
	EnableWAL bool

	// ReadOnly opens the database without write access. Used by the
	// checkpoint --status and report commands so an inspection never
	// blocks a live crawl's writer.
	ReadOnly bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Run status values stored under the "run_status" metadata key.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusResolving = "resolving"
	StatusDone      = "done"
	StatusAborted   = "aborted"
)

// Job metadata keys.
const (
	metaSchemaVersion      = "schema_version"
	metaSeeds              = "seeds"
	metaMaxHops            = "max_hops"
	metaThrottle           = "throttle"
	metaRunStatus          = "run_status"
	metaLastCheckpointAt   = "last_checkpoint_ts"
	metaLastCheckpointName = "last_checkpoint_event"
	metaResolutionDuration = "resolution_duration_s"
	metaResolutionCount    = "resolution_count"
)

// Open opens or creates a CrawlDB at <dbDir>/<basename>.db.
// On first use it initializes the schema; on later opens it runs any
// pending forward-only migrations keyed on the schema_version metadata
// row.
func Open(dbDir, basename string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, basename+".db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite uses URI-style connection options.
	// mode=rw prevents creating a new file when the caller expects one
	// to exist already.
	mode := "rwc"
	if !opts.CreateIfNotExists {
		mode = "rw"
	}
	if opts.ReadOnly {
		mode = "ro"
	}
	dsn := dbPath + "?mode=" + mode

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports exactly one writer. Capping the pool at one
	// connection is what gives every method below single-writer
	// semantics without an extra mutex.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	ctx := context.Background()

	if opts.EnableWAL && !opts.ReadOnly {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
		}
	}

	if !opts.ReadOnly {
		if err := cdb.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}

	return cdb, nil
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// Path returns the path of the underlying database file.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// migrations holds the forward-only schema migrations. Index i brings
// the schema from version i to version i+1. Never reorder or edit a
// shipped migration; append a new one.
var migrations = []string{
	// v0 -> v1: initial schema.
	`
	CREATE TABLE IF NOT EXISTS VERTEX (
		id TEXT NOT NULL PRIMARY KEY,
		color INTEGER NOT NULL,
		surname TEXT NOT NULL DEFAULT '',
		given_name TEXT NOT NULL DEFAULT '',
		iteration INTEGER NOT NULL,
		lifespan TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS VERTEX_ITERATION_IDX ON VERTEX(iteration);

	CREATE TABLE IF NOT EXISTS EDGE (
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		type TEXT NOT NULL,
		id TEXT NOT NULL,
		PRIMARY KEY (source, destination, id)
	);

	-- Downstream graph readers filter on the biological-ish types and
	-- traverse from either endpoint, so both composite indexes earn
	-- their keep.
	CREATE INDEX IF NOT EXISTS EDGE_TYPE_SOURCE_IDX ON EDGE(type, source);
	CREATE INDEX IF NOT EXISTS EDGE_TYPE_DESTINATION_IDX ON EDGE(type, destination);
	CREATE INDEX IF NOT EXISTS EDGE_ID_IDX ON EDGE(id);

	-- seq is AUTOINCREMENT so insertion order survives deletion: a
	-- re-discovered PID never jumps the queue.
	CREATE TABLE IF NOT EXISTS FRONTIER_QUEUE (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS PROCESSING_QUEUE (
		id TEXT NOT NULL PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS LOG (
		iteration INTEGER NOT NULL PRIMARY KEY,
		duration REAL NOT NULL,
		vertices INTEGER NOT NULL,
		frontier INTEGER NOT NULL,
		edges INTEGER NOT NULL,
		spanning_edges INTEGER NOT NULL,
		frontier_edges INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS JOB_METADATA (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT
	);
	`,
}

// migrate creates the schema on first use and applies any pending
// forward-only migrations afterwards.
func (cdb *CrawlDB) migrate(ctx context.Context) error {
	// The metadata table must exist before we can read the version.
	if _, err := cdb.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS JOB_METADATA (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT
	)`); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}

	version := 0
	if v, err := cdb.GetMetadata(ctx, metaSchemaVersion); err != nil {
		return err
	} else if v != "" {
		version, err = strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("unreadable schema version %q: %w", v, err)
		}
	}

	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this binary supports (%d)", version, len(migrations))
	}

	for ; version < len(migrations); version++ {
		tx, err := cdb.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration to schema version %d failed: %w", version+1, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO JOB_METADATA (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			metaSchemaVersion, strconv.Itoa(version+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", version+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// GetMetadata returns the value stored under key, or "" when absent.
func (cdb *CrawlDB) GetMetadata(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := cdb.db.QueryRowContext(ctx,
		`SELECT value FROM JOB_METADATA WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %q: %w", key, err)
	}
	return value.String, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (cdb *CrawlDB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := cdb.db.ExecContext(ctx,
		`INSERT INTO JOB_METADATA (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write metadata %q: %w", key, err)
	}
	return nil
}

// RunStatus returns the stored run status, defaulting to idle.
func (cdb *CrawlDB) RunStatus(ctx context.Context) (string, error) {
	s, err := cdb.GetMetadata(ctx, metaRunStatus)
	if err != nil {
		return "", err
	}
	if s == "" {
		return StatusIdle, nil
	}
	return s, nil
}

// SetRunStatus records the run status.
func (cdb *CrawlDB) SetRunStatus(ctx context.Context, status string) error {
	return cdb.SetMetadata(ctx, metaRunStatus, status)
}

// RecordJobConfig persists the seeds, hop limit, and throttle profile
// so a resumed run can report (and reuse) the original settings.
func (cdb *CrawlDB) RecordJobConfig(ctx context.Context, seeds []string, maxHops int, throttle config.Throttle) error {
	seedsJSON, err := json.Marshal(seeds)
	if err != nil {
		return fmt.Errorf("failed to serialize seeds: %w", err)
	}
	throttleJSON, err := json.Marshal(throttle)
	if err != nil {
		return fmt.Errorf("failed to serialize throttle profile: %w", err)
	}
	if err := cdb.SetMetadata(ctx, metaSeeds, string(seedsJSON)); err != nil {
		return err
	}
	if err := cdb.SetMetadata(ctx, metaMaxHops, strconv.Itoa(maxHops)); err != nil {
		return err
	}
	return cdb.SetMetadata(ctx, metaThrottle, string(throttleJSON))
}

// LoadJobConfig returns the recorded seeds, hop limit, and throttle
// profile. Fields never recorded come back as zero values; maxHops is
// -1 when absent so callers can tell "never set" from "zero hops".
func (cdb *CrawlDB) LoadJobConfig(ctx context.Context) (seeds []string, maxHops int, throttle config.Throttle, err error) {
	maxHops = -1
	throttle = config.DefaultThrottle()

	if v, err := cdb.GetMetadata(ctx, metaSeeds); err != nil {
		return nil, -1, throttle, err
	} else if v != "" {
		if err := json.Unmarshal([]byte(v), &seeds); err != nil {
			return nil, -1, throttle, fmt.Errorf("unreadable recorded seeds: %w", err)
		}
	}
	if v, err := cdb.GetMetadata(ctx, metaMaxHops); err != nil {
		return nil, -1, throttle, err
	} else if v != "" {
		if maxHops, err = strconv.Atoi(v); err != nil {
			return nil, -1, throttle, fmt.Errorf("unreadable recorded hop limit %q: %w", v, err)
		}
	}
	if v, err := cdb.GetMetadata(ctx, metaThrottle); err != nil {
		return nil, -1, throttle, err
	} else if v != "" {
		if err := json.Unmarshal([]byte(v), &throttle); err != nil {
			return nil, -1, throttle, fmt.Errorf("unreadable recorded throttle profile: %w", err)
		}
	}
	return seeds, maxHops, throttle, nil
}

// Checkpoint records a named durable state boundary. With WAL enabled
// every committed transaction is already crash-safe; the checkpoint
// additionally folds the WAL back into the main file so a copy of the
// .db file alone is a complete snapshot.
func (cdb *CrawlDB) Checkpoint(ctx context.Context, event string) error {
	if err := cdb.SetMetadata(ctx, metaLastCheckpointName, event); err != nil {
		return err
	}
	if err := cdb.SetMetadata(ctx, metaLastCheckpointAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if _, err := cdb.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint failed: %w", err)
	}
	return nil
}

// NextIteration returns the resume cursor: one past the last completed
// iteration, or 0 when no iteration has finished.
func (cdb *CrawlDB) NextIteration(ctx context.Context) (int, error) {
	var next int
	err := cdb.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(iteration) + 1, 0) FROM LOG`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read iteration cursor: %w", err)
	}
	return next, nil
}
