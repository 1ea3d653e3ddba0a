package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redblackgraph/fscrawl/internal/config"
	"github.com/redblackgraph/fscrawl/internal/database"
	"github.com/redblackgraph/fscrawl/internal/fsapi"
	"github.com/redblackgraph/fscrawl/internal/model"
	"github.com/redblackgraph/fscrawl/internal/telemetry"
)

// Engine drives the hop-by-hop crawl: promote the frontier, fetch and
// store each batch, close the iteration, and finally resolve ambiguous
// parent edges. All durable state lives in the store, which is what
// lets Run pick up exactly where a previous process stopped.
type Engine struct {
	cfg        *config.Config
	db         *database.CrawlDB
	client     *fsapi.Client
	emit       *telemetry.Emitter
	logger     *slog.Logger
	precedence model.Precedence
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrecedence overrides the relationship-type ranking used when a
// resolved type conflicts with a stored one.
func WithPrecedence(p model.Precedence) Option {
	return func(e *Engine) { e.precedence = p }
}

// New creates an Engine.
func New(cfg *config.Config, db *database.CrawlDB, client *fsapi.Client, emit *telemetry.Emitter, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		db:         db,
		client:     client,
		emit:       emit,
		logger:     logger,
		precedence: model.DefaultPrecedence(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the whole crawl: seed if the store is fresh, iterate up
// to the hop limit or until the frontier empties, then resolve flagged
// relationships. Returns nil on a completed crawl; a canceled context
// returns ctx.Err() after the state has been checkpointed, leaving the
// store resumable.
func (e *Engine) Run(ctx context.Context, seeds []model.PID) error {
	seeded, err := e.db.SeedFrontierIfEmpty(ctx, seeds)
	if err != nil {
		return err
	}
	if seeded {
		e.logger.Info("frontier seeded", slog.Int("seeds", len(seeds)))
	}

	if err := e.db.SetRunStatus(ctx, database.StatusRunning); err != nil {
		return err
	}
	e.emit.Emit(telemetry.EventRunStarted, map[string]any{
		"seeds":    len(seeds),
		"max_hops": e.cfg.HopCount,
		"requests": e.client.Requests(),
	})

	if err := e.crawl(ctx); err != nil {
		return e.finish(ctx, err)
	}
	if err := e.resolve(ctx); err != nil {
		return e.finish(ctx, err)
	}
	return e.finish(ctx, nil)
}

// crawl runs iterations from the resume cursor to the hop limit.
func (e *Engine) crawl(ctx context.Context) error {
	start, err := e.db.NextIteration(ctx)
	if err != nil {
		return err
	}
	if start > 0 {
		e.logger.Info("resuming crawl", slog.Int("iteration", start))
	}

	for iteration := start; iteration < e.cfg.HopCount; iteration++ {
		empty, err := e.runIteration(ctx, iteration)
		if err != nil {
			return err
		}
		if empty {
			e.logger.Info("frontier exhausted", slog.Int("iteration", iteration))
			return nil
		}
	}
	return nil
}

// runIteration executes one hop. Reports empty=true when the frontier
// had nothing left to promote.
func (e *Engine) runIteration(ctx context.Context, iteration int) (empty bool, err error) {
	pids, err := e.db.StartIteration(ctx, iteration, e.cfg.DrainLimit)
	if err != nil {
		return false, err
	}
	if len(pids) == 0 {
		return true, nil
	}

	e.logger.Info("iteration started",
		slog.Int("iteration", iteration),
		slog.Int("pids", len(pids)))
	e.emit.Emit(telemetry.EventIterationStarted, map[string]any{
		"iteration":  iteration,
		"processing": len(pids),
		"requests":   e.client.Requests(),
	})

	started := time.Now()
	proc := newProcessor(e, iteration)
	stopIdle := e.idleCheckpoints(ctx, proc)
	defer stopIdle()
	if err := e.client.FetchPersonBatches(ctx, pids,
		e.cfg.PersonsPerRequest, e.cfg.InterBatchDelay, proc.handle); err != nil {
		// In-flight pids stay in the processing set; the next run's
		// StartIteration re-dispatches them.
		if cerr := e.db.Checkpoint(context.WithoutCancel(ctx), "stopped"); cerr != nil {
			e.logger.Error("checkpoint on stop failed", slog.String("error", cerr.Error()))
		}
		return false, err
	}

	stats, err := e.db.EndIteration(ctx, iteration, time.Since(started))
	if err != nil {
		return false, err
	}

	e.logger.Info("iteration completed",
		slog.Int("iteration", stats.Iteration),
		slog.Float64("duration_s", stats.DurationS),
		slog.Int("vertices", stats.Vertices),
		slog.Int("frontier", stats.Frontier),
		slog.Int("edges", stats.Edges),
		slog.Int("spanning_edges", stats.SpanningEdges),
		slog.Int("frontier_edges", stats.FrontierEdges))
	e.emit.Emit(telemetry.EventIterationCompleted, map[string]any{
		"iteration":      stats.Iteration,
		"duration_s":     stats.DurationS,
		"vertices":       stats.Vertices,
		"frontier":       stats.Frontier,
		"edges":          stats.Edges,
		"spanning_edges": stats.SpanningEdges,
		"frontier_edges": stats.FrontierEdges,
		"requests":       e.client.Requests(),
	})

	if summary, err := e.db.GraphStats(ctx); err == nil {
		e.logger.Info(summary)
	}
	return false, nil
}

// idleCheckpoints forces a durable boundary when a hop sits idle
// longer than the checkpoint interval, typically while every batch is
// parked in throttle backoff. The payload-count checkpoint in the
// processor only fires when a payload lands; this covers the gaps
// between them. The returned stop function ends the watcher.
func (e *Engine) idleCheckpoints(ctx context.Context, proc *processor) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.cfg.CheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !proc.idleFor(e.cfg.CheckpointInterval) {
				continue
			}
			if err := e.db.Checkpoint(ctx, "idle"); err != nil {
				e.logger.Warn("idle checkpoint failed", slog.String("error", err.Error()))
				continue
			}
			proc.markCheckpoint()
			e.emit.Emit(telemetry.EventCheckpoint, map[string]any{
				"iteration": proc.iteration,
				"idle":      true,
				"requests":  e.client.Requests(),
			})
		}
	}()
	return func() { close(done) }
}

// finish records the terminal run status and emits the closing event.
// The incoming error decides the status: nil means done, cancellation
// means the run is parked resumable, anything else is an abort.
func (e *Engine) finish(ctx context.Context, runErr error) error {
	// The run context may already be canceled; status still has to land.
	base := context.WithoutCancel(ctx)

	switch {
	case runErr == nil:
		if err := e.db.SetRunStatus(base, database.StatusDone); err != nil {
			return err
		}
		e.emit.Emit(telemetry.EventRunCompleted, map[string]any{
			"requests": e.client.Requests(),
		})
		e.logger.Info("crawl completed")
		return nil

	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		if err := e.db.SetRunStatus(base, database.StatusPaused); err != nil {
			e.logger.Error("failed to record paused status", slog.String("error", err.Error()))
		}
		e.emit.Emit(telemetry.EventPaused, map[string]any{
			"requests": e.client.Requests(),
		})
		e.logger.Info("crawl stopped, state checkpointed for resume")
		return runErr

	default:
		if err := e.db.SetRunStatus(base, database.StatusAborted); err != nil {
			e.logger.Error("failed to record aborted status", slog.String("error", err.Error()))
		}
		e.emit.Emit(telemetry.EventRunAborted, map[string]any{
			"error":    runErr.Error(),
			"requests": e.client.Requests(),
		})
		return fmt.Errorf("crawl aborted: %w", runErr)
	}
}
