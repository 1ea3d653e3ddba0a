package fsapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redblackgraph/fscrawl/internal/model"
	"github.com/redblackgraph/fscrawl/internal/session"
)

// Chunk splits pids into batches of at most size, preserving order.
func Chunk(pids []model.PID, size int) [][]model.PID {
	if size <= 0 || len(pids) == 0 {
		return nil
	}
	chunks := make([][]model.PID, 0, (len(pids)+size-1)/size)
	for len(pids) > size {
		chunks = append(chunks, pids[:size])
		pids = pids[size:]
	}
	return append(chunks, pids)
}

// BatchResult is the outcome of one persons batch. Exactly one of
// Persons and Err is set: a failed batch still reaches the handler so
// its pids can be returned to the frontier.
type BatchResult struct {
	PIDs    []model.PID
	Persons *PersonsResult
	Err     error
}

// FetchPersonBatches fetches pids in batches of size, dispatching
// concurrently under the controller's person cap, and hands each
// result to handle. Handler calls are serialized; the store behind
// them is a single writer anyway.
//
// Batch failures are delivered, not fatal. Auth expiry and context
// cancellation abort the whole dispatch, as does any error the handler
// returns. delay, when positive, spaces out dispatches on top of the
// token bucket.
func (c *Client) FetchPersonBatches(ctx context.Context, pids []model.PID, size int, delay time.Duration, handle func(BatchResult) error) error {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, chunk := range Chunk(pids, size) {
		if i > 0 && delay > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				break
			}
		}
		chunk := chunk
		g.Go(func() error {
			persons, err := c.FetchPersons(ctx, chunk)
			if err != nil {
				if errors.Is(err, session.ErrAuthExpired) ||
					errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return err
				}
				persons = nil
			}
			mu.Lock()
			defer mu.Unlock()
			return handle(BatchResult{PIDs: chunk, Persons: persons, Err: err})
		})
	}
	return g.Wait()
}
