package database

import "errors"

// Store errors.
//
// Design decision: We define sentinel errors here so the CLI boundary
// can map them to exit codes with errors.Is rather than matching on
// message text.
var (
	// ErrDatabaseNotFound is returned when opening with
	// CreateIfNotExists=false and no database file exists. The resume
	// and checkpoint commands require an existing database.
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrCorrupt is returned when the database file cannot be read or
	// migrated. The run must abort; continuing would compound the
	// damage.
	ErrCorrupt = errors.New("database is corrupted or unreadable")

	// ErrIntegrity is returned when a store invariant does not hold:
	// overlapping pid partitions, edges referencing unknown pids, or a
	// gap in the iteration log.
	ErrIntegrity = errors.New("store integrity violation")
)
