package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redblackgraph/fscrawl/internal/fsapi"
	"github.com/redblackgraph/fscrawl/internal/telemetry"
)

// processor applies persons payloads to the store for one iteration.
// handle is called serially by the batch dispatcher; the mutex exists
// only because the idle-checkpoint watcher reads the checkpoint clock
// from its own goroutine.
type processor struct {
	engine    *Engine
	iteration int

	mu             sync.Mutex
	payloads       int
	lastCheckpoint time.Time
}

func newProcessor(e *Engine, iteration int) *processor {
	return &processor{
		engine:         e,
		iteration:      iteration,
		lastCheckpoint: time.Now(),
	}
}

// markCheckpoint resets the checkpoint clock.
func (p *processor) markCheckpoint() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCheckpoint = time.Now()
}

// idleFor reports whether no checkpoint has been written for d.
func (p *processor) idleFor(d time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastCheckpoint) >= d
}

// handle stores one batch result. Failed batches return their pids to
// the frontier for retry on a later hop; the iteration keeps going.
func (p *processor) handle(res fsapi.BatchResult) error {
	e := p.engine
	ctx := context.Background()

	if res.Err != nil {
		e.logger.Warn("batch failed, returning pids to frontier",
			slog.Int("iteration", p.iteration),
			slog.Int("pids", len(res.PIDs)),
			slog.String("error", res.Err.Error()))
		e.emit.Emit(telemetry.EventBatchFailed, map[string]any{
			"iteration": p.iteration,
			"pids":      len(res.PIDs),
			"error":     res.Err.Error(),
			"requests":  e.client.Requests(),
		})
		return e.db.ReturnToFrontier(ctx, res.PIDs)
	}

	for _, person := range res.Persons.Individuals {
		person := person
		person.Iteration = p.iteration
		if err := e.db.AddIndividual(ctx, &person); err != nil {
			return err
		}
	}
	for _, edge := range res.Persons.ParentChild {
		if err := e.db.AddParentChildRelationship(ctx, edge); err != nil {
			return err
		}
	}
	for _, edge := range res.Persons.Couples {
		if err := e.db.AddParentChildRelationship(ctx, edge); err != nil {
			return err
		}
	}

	e.emit.Emit(telemetry.EventBatchCompleted, map[string]any{
		"iteration": p.iteration,
		"persons":   len(res.Persons.Individuals),
		"edges":     len(res.Persons.ParentChild) + len(res.Persons.Couples),
		"requests":  e.client.Requests(),
	})

	p.mu.Lock()
	p.payloads++
	due := p.payloads%e.cfg.CheckpointEvery == 0 ||
		time.Since(p.lastCheckpoint) > e.cfg.CheckpointInterval
	payloads := p.payloads
	p.mu.Unlock()
	if due {
		if err := e.db.Checkpoint(ctx, "mid_iteration"); err != nil {
			return err
		}
		p.markCheckpoint()
		e.emit.Emit(telemetry.EventCheckpoint, map[string]any{
			"iteration": p.iteration,
			"payloads":  payloads,
			"requests":  e.client.Requests(),
		})
	}
	return nil
}
