package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redblackgraph/fscrawl/internal/database"
	"github.com/redblackgraph/fscrawl/internal/fsapi"
	"github.com/redblackgraph/fscrawl/internal/model"
	"github.com/redblackgraph/fscrawl/internal/session"
	"github.com/redblackgraph/fscrawl/internal/telemetry"
)

// resolve runs the relationship-resolution pass that follows the last
// hop. Children with more than two biological-ish parent edges have
// those edges flagged; each flagged relationship record is fetched and
// the facts it carries decide the final edge types.
func (e *Engine) resolve(ctx context.Context) error {
	if err := e.db.SetRunStatus(ctx, database.StatusResolving); err != nil {
		return err
	}

	started := time.Now()
	flagged, err := e.db.DetermineResolution(ctx)
	if err != nil {
		return err
	}
	relIDs, err := e.db.RelationshipsToResolve(ctx)
	if err != nil {
		return err
	}

	e.logger.Info("relationship resolution started",
		slog.Int64("flagged_edges", flagged),
		slog.Int("relationships", len(relIDs)))
	e.emit.Emit(telemetry.EventResolutionStarted, map[string]any{
		"flagged_edges": flagged,
		"relationships": len(relIDs),
		"requests":      e.client.Requests(),
	})

	var (
		mu       sync.Mutex
		resolved int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, relID := range relIDs {
		relID := relID
		g.Go(func() error {
			record, err := e.client.FetchRelationship(gctx, relID)
			if err != nil {
				if errors.Is(err, session.ErrAuthExpired) ||
					errors.Is(err, context.Canceled) || gctx.Err() != nil {
					return err
				}
				// The record is unreadable; fall back to the no-facts
				// reading so the edges leave the Resolve state.
				e.logger.Warn("relationship fetch failed, assuming biological",
					slog.String("relationship_id", relID),
					slog.String("error", err.Error()))
				mu.Lock()
				defer mu.Unlock()
				return e.db.UpdateRelationship(context.Background(),
					relID, model.TypeAssumedBiological)
			}
			mu.Lock()
			defer mu.Unlock()
			if err := e.applyResolution(context.Background(), relID, record); err != nil {
				return err
			}
			resolved++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := e.db.Checkpoint(context.WithoutCancel(ctx), "stopped"); cerr != nil {
			e.logger.Error("checkpoint on stop failed", slog.String("error", cerr.Error()))
		}
		return err
	}

	duration := time.Since(started)
	if err := e.db.EndRelationshipResolution(ctx, duration, resolved); err != nil {
		return err
	}
	e.logger.Info("relationship resolution completed",
		slog.Int("resolved", resolved),
		slog.Duration("duration", duration))
	e.emit.Emit(telemetry.EventResolutionDone, map[string]any{
		"resolved":   resolved,
		"duration_s": duration.Seconds(),
		"requests":   e.client.Requests(),
	})
	return nil
}

// applyResolution rewrites the edges of one relationship record from
// its fetched facts.
//
// Each parent present in the record gets its edge retyped through the
// precedence merge. Any edge still flagged afterwards belongs to a
// parent the record no longer names; the authoritative record has
// dropped that claim, so the edge is retyped non-biological rather
// than left ambiguous.
func (e *Engine) applyResolution(ctx context.Context, relID string, record *fsapi.ResolvedRelationship) error {
	for _, edge := range record.Edges {
		current := model.TypeResolve
		if stored, err := e.db.GetEdge(ctx, edge.Source, edge.Destination); err != nil {
			return err
		} else if stored != nil {
			current = stored.Type
		}
		merged := e.precedence.Merge(current, edge.Type)
		if err := e.db.UpdateRelationshipEdge(ctx, edge.Source, edge.Destination, merged); err != nil {
			return err
		}
	}
	return e.sweepStaleEdges(ctx, relID)
}

// sweepStaleEdges retypes edges of relID that stayed in the Resolve
// state after the record's parents were applied.
func (e *Engine) sweepStaleEdges(ctx context.Context, relID string) error {
	return e.db.UpdateRelationshipWhere(ctx, relID, model.TypeResolve, model.TypeNonBiological)
}
