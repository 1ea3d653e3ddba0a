package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redblackgraph/fscrawl/internal/config"
)

// Status is a point-in-time snapshot of the crawl state, shaped for
// the checkpoint --status command's JSON output.
type Status struct {
	// RunStatus is one of idle, running, paused, resolving, done,
	// aborted.
	RunStatus string `json:"run_status"`

	// Vertices is the number of resolved persons.
	Vertices int `json:"vertices"`

	// Edges is the total number of stored edges of any type.
	Edges int `json:"edges"`

	// FrontierDepth is the number of pids awaiting processing.
	FrontierDepth int `json:"frontier_depth"`

	// ProcessingDepth is the number of pids currently in flight.
	// Non-zero while a hop is mid-flight or after an unclean shutdown.
	ProcessingDepth int `json:"processing_depth"`

	// LastIteration is the highest completed iteration, or -1 when no
	// iteration has completed.
	LastIteration int `json:"last_iteration"`

	// LastCheckpointEvent and LastCheckpointAt describe the most
	// recent durable boundary.
	LastCheckpointEvent string `json:"last_checkpoint_event,omitempty"`
	LastCheckpointAt    string `json:"last_checkpoint_ts,omitempty"`

	// Throttle is the pacing profile the job was recorded with.
	Throttle *config.Throttle `json:"throttle,omitempty"`
}

// Status assembles a snapshot from counters and job metadata.
func (cdb *CrawlDB) Status(ctx context.Context) (*Status, error) {
	var s Status

	err := cdb.db.QueryRowContext(ctx, `
	SELECT
		(SELECT COUNT(*) FROM VERTEX),
		(SELECT COUNT(*) FROM EDGE),
		(SELECT COUNT(*) FROM FRONTIER_QUEUE),
		(SELECT COUNT(*) FROM PROCESSING_QUEUE),
		(SELECT COALESCE(MAX(iteration), -1) FROM LOG)`).Scan(
		&s.Vertices, &s.Edges, &s.FrontierDepth, &s.ProcessingDepth, &s.LastIteration)
	if err != nil {
		return nil, fmt.Errorf("failed to read status counters: %w", err)
	}

	if s.RunStatus, err = cdb.RunStatus(ctx); err != nil {
		return nil, err
	}
	if s.LastCheckpointEvent, err = cdb.GetMetadata(ctx, metaLastCheckpointName); err != nil {
		return nil, err
	}
	if s.LastCheckpointAt, err = cdb.GetMetadata(ctx, metaLastCheckpointAt); err != nil {
		return nil, err
	}

	throttleJSON, err := cdb.GetMetadata(ctx, metaThrottle)
	if err != nil {
		return nil, err
	}
	if throttleJSON != "" {
		var t config.Throttle
		if err := json.Unmarshal([]byte(throttleJSON), &t); err == nil {
			s.Throttle = &t
		}
	}
	return &s, nil
}

// CheckIntegrity verifies the store invariants that every committed
// transaction must preserve: the vertex/processing/frontier partitions
// are disjoint, every edge endpoint is in the pid universe, and the
// iteration log is contiguous from zero. A violation means the file
// was corrupted or written by a buggy process; the run must not
// continue on top of it.
func (cdb *CrawlDB) CheckIntegrity(ctx context.Context) error {
	var overlap int
	err := cdb.db.QueryRowContext(ctx, `
	SELECT
		(SELECT COUNT(*) FROM VERTEX v JOIN PROCESSING_QUEUE p ON v.id = p.id)
	  + (SELECT COUNT(*) FROM VERTEX v JOIN FRONTIER_QUEUE f ON v.id = f.id)
	  + (SELECT COUNT(*) FROM PROCESSING_QUEUE p JOIN FRONTIER_QUEUE f ON p.id = f.id)`).Scan(&overlap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if overlap > 0 {
		return fmt.Errorf("%w: %d pids appear in more than one partition", ErrIntegrity, overlap)
	}

	var orphans int
	err = cdb.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM EDGE
	WHERE (NOT EXISTS (SELECT 1 FROM VERTEX WHERE id = source)
	   AND NOT EXISTS (SELECT 1 FROM PROCESSING_QUEUE WHERE id = source)
	   AND NOT EXISTS (SELECT 1 FROM FRONTIER_QUEUE WHERE id = source))
	   OR (NOT EXISTS (SELECT 1 FROM VERTEX WHERE id = destination)
	   AND NOT EXISTS (SELECT 1 FROM PROCESSING_QUEUE WHERE id = destination)
	   AND NOT EXISTS (SELECT 1 FROM FRONTIER_QUEUE WHERE id = destination))`).Scan(&orphans)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if orphans > 0 {
		return fmt.Errorf("%w: %d edges reference unknown pids", ErrIntegrity, orphans)
	}

	var rowCount, maxIter int
	err = cdb.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(iteration), -1) FROM LOG`).Scan(&rowCount, &maxIter)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rowCount != maxIter+1 {
		return fmt.Errorf("%w: iteration log has %d rows but max iteration %d", ErrIntegrity, rowCount, maxIter)
	}
	return nil
}

// GraphStats renders the one-line human summary printed at run end.
func (cdb *CrawlDB) GraphStats(ctx context.Context) (string, error) {
	s, err := cdb.Status(ctx)
	if err != nil {
		return "", err
	}
	var within, spanning, frontier int
	err = cdb.db.QueryRowContext(ctx, `
	SELECT
		COALESCE(SUM(CASE WHEN s + d = 2 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN s + d = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN s + d = 0 THEN 1 ELSE 0 END), 0)
	FROM (
		SELECT
			EXISTS (SELECT 1 FROM VERTEX WHERE id = source) AS s,
			EXISTS (SELECT 1 FROM VERTEX WHERE id = destination) AS d
		FROM EDGE
	)`).Scan(&within, &spanning, &frontier)
	if err != nil {
		return "", fmt.Errorf("failed to count edge spans: %w", err)
	}
	return fmt.Sprintf("%d vertices, %d frontier, %d edges, %d spanning edges, %d frontier edges",
		s.Vertices, s.FrontierDepth, within, spanning, frontier), nil
}
