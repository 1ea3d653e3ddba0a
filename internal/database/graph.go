package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redblackgraph/fscrawl/internal/model"
)

// biologicalIshIn is a SQL fragment matching the edge types followed
// by downstream graph readers.
var biologicalIshIn = func() string {
	quoted := make([]string, 0, len(model.BiologicalIshTypes))
	for _, t := range model.BiologicalIshTypes {
		quoted = append(quoted, "'"+string(t)+"'")
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}()

// AddIndividual upserts a resolved person into the vertex table and
// removes the pid from the processing set.
//
// The insert is OR IGNORE so replaying a payload after a crash is a
// no-op: a vertex, once written, is never rewritten, which also pins
// its iteration to the hop that first resolved it.
func (cdb *CrawlDB) AddIndividual(ctx context.Context, person *model.Individual) error {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT OR IGNORE INTO VERTEX (id, color, surname, given_name, iteration, lifespan)
	VALUES (?, ?, ?, ?, ?, ?)`,
		string(person.ID),
		int(person.Color),
		person.Surname,
		person.GivenName,
		person.Iteration,
		person.Lifespan,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert vertex %s: %w", person.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM PROCESSING_QUEUE WHERE id = ?`, string(person.ID)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to retire %s from processing: %w", person.ID, err)
	}
	// A pid must live in exactly one partition.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM FRONTIER_QUEUE WHERE id = ?`, string(person.ID)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to retire %s from frontier: %w", person.ID, err)
	}
	return tx.Commit()
}

// GetIndividual returns the vertex for pid, or nil when absent.
func (cdb *CrawlDB) GetIndividual(ctx context.Context, pid model.PID) (*model.Individual, error) {
	var (
		person model.Individual
		id     string
		color  int
	)
	err := cdb.db.QueryRowContext(ctx, `
	SELECT id, color, surname, given_name, iteration, lifespan
	FROM VERTEX WHERE id = ?`, string(pid)).Scan(
		&id, &color, &person.Surname, &person.GivenName, &person.Iteration, &person.Lifespan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vertex %s: %w", pid, err)
	}
	person.ID = model.PID(id)
	person.Color = model.Color(color)
	return &person, nil
}

// AddParentChildRelationship upserts a parent→child edge and enqueues
// any endpoint that has never been seen. Idempotent: replaying an edge
// neither duplicates it nor resets a type the resolver already
// rewrote.
func (cdb *CrawlDB) AddParentChildRelationship(ctx context.Context, edge model.Edge) error {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT OR IGNORE INTO EDGE (source, destination, type, id)
	VALUES (?, ?, ?, ?)`,
		string(edge.Source), string(edge.Destination), string(edge.Type), edge.RelID,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert edge %s->%s: %w", edge.Source, edge.Destination, err)
	}
	// Both endpoints must be somewhere in the pid universe.
	for _, pid := range []model.PID{edge.Source, edge.Destination} {
		if _, err := tx.ExecContext(ctx, enqueueIfUnseen, string(pid)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to enqueue endpoint %s: %w", pid, err)
		}
	}
	return tx.Commit()
}

// GetEdge returns the stored edge for (source, destination), or nil
// when absent.
func (cdb *CrawlDB) GetEdge(ctx context.Context, source, destination model.PID) (*model.Edge, error) {
	var (
		edge     model.Edge
		src, dst string
		typ      string
	)
	err := cdb.db.QueryRowContext(ctx, `
	SELECT source, destination, type, id FROM EDGE
	WHERE source = ? AND destination = ?`,
		string(source), string(destination)).Scan(&src, &dst, &typ, &edge.RelID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read edge %s->%s: %w", source, destination, err)
	}
	edge.Source = model.PID(src)
	edge.Destination = model.PID(dst)
	edge.Type = model.RelationshipType(typ)
	return &edge, nil
}

// DetermineResolution flags ambiguous edges: any child (destination)
// carrying more than two biological-ish incident edges has all of them
// flipped to Resolve. A person has at most two biological parents; a
// third claim means at least one relationship record must be fetched
// and retyped. Returns the number of edges flagged.
func (cdb *CrawlDB) DetermineResolution(ctx context.Context) (int64, error) {
	res, err := cdb.db.ExecContext(ctx, `
	UPDATE EDGE SET type = ?
	WHERE type IN `+biologicalIshIn+`
	  AND destination IN (
		SELECT destination FROM EDGE
		WHERE type IN `+biologicalIshIn+`
		GROUP BY destination
		HAVING COUNT(*) > 2
	  )`, string(model.TypeResolve))
	if err != nil {
		return 0, fmt.Errorf("failed to flag ambiguous edges: %w", err)
	}
	return res.RowsAffected()
}

// RelationshipsToResolve returns the distinct relationship record ids
// of edges flagged Resolve.
func (cdb *CrawlDB) RelationshipsToResolve(ctx context.Context) ([]string, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT DISTINCT id FROM EDGE WHERE type = ? ORDER BY id`,
		string(model.TypeResolve))
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships to resolve: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateRelationship rewrites the type of every edge carrying the
// given relationship record id.
func (cdb *CrawlDB) UpdateRelationship(ctx context.Context, relID string, t model.RelationshipType) error {
	if _, err := cdb.db.ExecContext(ctx,
		`UPDATE EDGE SET type = ? WHERE id = ?`, string(t), relID); err != nil {
		return fmt.Errorf("failed to update relationship %s: %w", relID, err)
	}
	return nil
}

// UpdateRelationshipWhere rewrites the type of edges carrying relID
// that currently hold type from. The resolver uses it to sweep edges a
// fetched record no longer supports.
func (cdb *CrawlDB) UpdateRelationshipWhere(ctx context.Context, relID string, from, to model.RelationshipType) error {
	if _, err := cdb.db.ExecContext(ctx,
		`UPDATE EDGE SET type = ? WHERE id = ? AND type = ?`,
		string(to), relID, string(from)); err != nil {
		return fmt.Errorf("failed to sweep relationship %s: %w", relID, err)
	}
	return nil
}

// UpdateRelationshipEdge rewrites the type of one specific edge. The
// resolver uses this form when a relationship record carries distinct
// facts for each parent.
func (cdb *CrawlDB) UpdateRelationshipEdge(ctx context.Context, source, destination model.PID, t model.RelationshipType) error {
	if _, err := cdb.db.ExecContext(ctx,
		`UPDATE EDGE SET type = ? WHERE source = ? AND destination = ?`,
		string(t), string(source), string(destination)); err != nil {
		return fmt.Errorf("failed to update edge %s->%s: %w", source, destination, err)
	}
	return nil
}

// IterationStats are the counters recorded in one LOG row.
type IterationStats struct {
	Iteration     int     `json:"iteration"`
	DurationS     float64 `json:"duration_s"`
	Vertices      int     `json:"vertices"`
	Frontier      int     `json:"frontier"`
	Edges         int     `json:"edges"`
	SpanningEdges int     `json:"spanning_edges"`
	FrontierEdges int     `json:"frontier_edges"`
}

// EndIteration closes hop n: drains any leftover processing entries
// back to the frontier, writes the LOG row, and commits. This is the
// iteration's durable boundary; the resume cursor advances exactly
// here.
func (cdb *CrawlDB) EndIteration(ctx context.Context, iteration int, duration time.Duration) (IterationStats, error) {
	stats := IterationStats{
		Iteration: iteration,
		DurationS: duration.Seconds(),
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	// Anything still in flight was requested but never returned; it
	// goes back to the frontier for retry next hop rather than being
	// dropped.
	leftovers, err := scanPIDs(tx.QueryContext(ctx, `SELECT id FROM PROCESSING_QUEUE`))
	if err != nil {
		return stats, fmt.Errorf("failed to read leftovers: %w", err)
	}
	for _, pid := range leftovers {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM PROCESSING_QUEUE WHERE id = ?`, string(pid)); err != nil {
			return stats, err
		}
		if _, err := tx.ExecContext(ctx, enqueueIfUnseen, string(pid)); err != nil {
			return stats, err
		}
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM VERTEX WHERE iteration = ?`, iteration).Scan(&stats.Vertices); err != nil {
		return stats, err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM FRONTIER_QUEUE`).Scan(&stats.Frontier); err != nil {
		return stats, err
	}

	// Edge span classes: within (both endpoints resolved), spanning
	// (exactly one), frontier (neither).
	if err := tx.QueryRowContext(ctx, `
	SELECT
		COALESCE(SUM(CASE WHEN s + d = 2 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN s + d = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN s + d = 0 THEN 1 ELSE 0 END), 0)
	FROM (
		SELECT
			EXISTS (SELECT 1 FROM VERTEX WHERE id = source) AS s,
			EXISTS (SELECT 1 FROM VERTEX WHERE id = destination) AS d
		FROM EDGE
	)`).Scan(&stats.Edges, &stats.SpanningEdges, &stats.FrontierEdges); err != nil {
		return stats, err
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO LOG (iteration, duration, vertices, frontier, edges, spanning_edges, frontier_edges)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		iteration, stats.DurationS, stats.Vertices, stats.Frontier,
		stats.Edges, stats.SpanningEdges, stats.FrontierEdges,
	); err != nil {
		return stats, fmt.Errorf("failed to write LOG row for iteration %d: %w", iteration, err)
	}

	if err := tx.Commit(); err != nil {
		return stats, err
	}
	return stats, cdb.Checkpoint(ctx, "iteration_complete")
}

// EndRelationshipResolution records the resolution pass outcome and
// commits a checkpoint.
func (cdb *CrawlDB) EndRelationshipResolution(ctx context.Context, duration time.Duration, resolved int) error {
	if err := cdb.SetMetadata(ctx, metaResolutionDuration,
		fmt.Sprintf("%.3f", duration.Seconds())); err != nil {
		return err
	}
	if err := cdb.SetMetadata(ctx, metaResolutionCount, fmt.Sprintf("%d", resolved)); err != nil {
		return err
	}
	return cdb.Checkpoint(ctx, "relationships_complete")
}

// IterationLog returns all LOG rows in iteration order.
func (cdb *CrawlDB) IterationLog(ctx context.Context) ([]IterationStats, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT iteration, duration, vertices, frontier, edges, spanning_edges, frontier_edges
	FROM LOG ORDER BY iteration`)
	if err != nil {
		return nil, fmt.Errorf("failed to read iteration log: %w", err)
	}
	defer rows.Close()

	var log []IterationStats
	for rows.Next() {
		var s IterationStats
		if err := rows.Scan(&s.Iteration, &s.DurationS, &s.Vertices, &s.Frontier,
			&s.Edges, &s.SpanningEdges, &s.FrontierEdges); err != nil {
			return nil, err
		}
		log = append(log, s)
	}
	return log, rows.Err()
}
