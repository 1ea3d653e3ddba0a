package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redblackgraph/fscrawl/internal/model"
)

// enqueueIfUnseen inserts one pid into the frontier unless it is
// already a vertex, in flight, or queued. Runs inside the caller's
// transaction so multi-pid submissions keep their order.
//
// A pid appears in at most one of VERTEX, PROCESSING_QUEUE, and
// FRONTIER_QUEUE; this statement is the only place frontier rows are
// born, so the guard here is what maintains that partition.
const enqueueIfUnseen = `
INSERT OR IGNORE INTO FRONTIER_QUEUE (id)
SELECT ?1
WHERE NOT EXISTS (SELECT 1 FROM VERTEX WHERE id = ?1)
  AND NOT EXISTS (SELECT 1 FROM PROCESSING_QUEUE WHERE id = ?1)`

// AddToFrontier enqueues each pid that has never been seen before.
// First insertion wins: re-submitting a queued pid neither duplicates
// nor re-orders it.
func (cdb *CrawlDB) AddToFrontier(ctx context.Context, pids []model.PID) error {
	if len(pids) == 0 {
		return nil
	}
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, pid := range pids {
		if _, err := tx.ExecContext(ctx, enqueueIfUnseen, string(pid)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to enqueue %s: %w", pid, err)
		}
	}
	return tx.Commit()
}

// SeedFrontierIfEmpty seeds the frontier at run start. It is a no-op
// when the database already holds any crawl state, which makes seeding
// idempotent across restarts. Reports whether seeding happened.
func (cdb *CrawlDB) SeedFrontierIfEmpty(ctx context.Context, pids []model.PID) (bool, error) {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	var existing int
	err = tx.QueryRowContext(ctx, `
	SELECT (SELECT COUNT(*) FROM FRONTIER_QUEUE)
	     + (SELECT COUNT(*) FROM PROCESSING_QUEUE)
	     + (SELECT COUNT(*) FROM VERTEX)`).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("failed to inspect crawl state: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	for _, pid := range pids {
		if _, err := tx.ExecContext(ctx, enqueueIfUnseen, string(pid)); err != nil {
			return false, fmt.Errorf("failed to seed %s: %w", pid, err)
		}
	}
	return true, tx.Commit()
}

// StartIteration promotes up to maxDrain of the oldest frontier
// entries into the processing set and returns them. maxDrain <= 0
// drains the entire frontier.
//
// Crash recovery: if the processing set is already non-empty the prior
// process died mid-hop. In that case the current contents are returned
// verbatim with no promotion; re-dispatching them is safe because the
// vertex and edge writes are idempotent.
func (cdb *CrawlDB) StartIteration(ctx context.Context, iteration, maxDrain int) ([]model.PID, error) {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	inflight, err := scanPIDs(tx.QueryContext(ctx, `SELECT id FROM PROCESSING_QUEUE`))
	if err != nil {
		return nil, fmt.Errorf("failed to read processing set: %w", err)
	}
	if len(inflight) > 0 {
		return inflight, tx.Commit()
	}

	query := `SELECT id FROM FRONTIER_QUEUE ORDER BY seq`
	args := []any{}
	if maxDrain > 0 {
		query += ` LIMIT ?`
		args = append(args, maxDrain)
	}
	promoted, err := scanPIDs(tx.QueryContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to read frontier: %w", err)
	}

	for _, pid := range promoted {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO PROCESSING_QUEUE (id) VALUES (?)`, string(pid)); err != nil {
			return nil, fmt.Errorf("failed to promote %s: %w", pid, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM FRONTIER_QUEUE WHERE id = ?`, string(pid)); err != nil {
			return nil, fmt.Errorf("failed to dequeue %s: %w", pid, err)
		}
	}
	return promoted, tx.Commit()
}

// IDsToProcess returns a snapshot of the current processing set.
func (cdb *CrawlDB) IDsToProcess(ctx context.Context) ([]model.PID, error) {
	return scanPIDs(cdb.db.QueryContext(ctx, `SELECT id FROM PROCESSING_QUEUE`))
}

// ReturnToFrontier moves pids from the processing set back to the tail
// of the frontier. Used for permanently failed batches and for pids
// that a hop requested but the service never returned.
func (cdb *CrawlDB) ReturnToFrontier(ctx context.Context, pids []model.PID) error {
	if len(pids) == 0 {
		return nil
	}
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, pid := range pids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM PROCESSING_QUEUE WHERE id = ?`, string(pid)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to remove %s from processing: %w", pid, err)
		}
		if _, err := tx.ExecContext(ctx, enqueueIfUnseen, string(pid)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to return %s to frontier: %w", pid, err)
		}
	}
	return tx.Commit()
}

// PeekFrontier returns up to limit frontier entries in queue order,
// for operator inspection. limit <= 0 returns the whole queue.
func (cdb *CrawlDB) PeekFrontier(ctx context.Context, limit int) ([]model.PID, error) {
	query := `SELECT id FROM FRONTIER_QUEUE ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return scanPIDs(cdb.db.QueryContext(ctx, query, args...))
}

// scanPIDs collects a single-column id result set.
func scanPIDs(rows *sql.Rows, err error) ([]model.PID, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pids []model.PID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pids = append(pids, model.PID(id))
	}
	return pids, rows.Err()
}
