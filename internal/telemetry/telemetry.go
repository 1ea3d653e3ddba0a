// Package telemetry emits machine-readable progress events as JSON
// lines, one object per line, for dashboards and scripts that watch a
// long crawl. Human-readable logging stays with slog; this stream is
// the stable contract.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Event names emitted over a run's lifetime. The names are the stream
// contract: scripts watching a crawl match on them, so renaming one is
// a breaking change.
const (
	EventRunStarted         = "run_start"
	EventIterationStarted   = "iteration_start"
	EventBatchCompleted     = "person_batch"
	EventBatchFailed        = "person_batch_failed"
	EventCheckpoint         = "checkpoint"
	EventIterationCompleted = "iteration_complete"
	EventResolutionStarted  = "relationships_start"
	EventResolutionDone     = "relationships_complete"
	EventPaused             = "paused"
	EventResumed            = "resumed"
	EventRunCompleted       = "run_complete"
	EventRunAborted         = "run_aborted"
)

// Emitter writes events to one destination. A nil *Emitter is valid
// and drops everything, so callers never branch on whether telemetry
// is configured.
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter opens the telemetry destination. "-" means stdout; the
// empty string disables the stream and returns nil. File destinations
// are opened in append mode so a resumed run extends the history.
func NewEmitter(path string, logger *slog.Logger) (*Emitter, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return &Emitter{w: os.Stdout, logger: logger, now: time.Now}, nil
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open telemetry file %s: %w", path, err)
		}
		return &Emitter{w: f, closer: f, logger: logger, now: time.Now}, nil
	}
}

// Emit writes one event line. Field keys "event" and "ts" are
// reserved; fields under those names are overwritten. Emission
// failures are logged and swallowed: telemetry must never take the
// crawl down.
func (e *Emitter) Emit(event string, fields map[string]any) {
	if e == nil {
		return
	}
	record := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		record[k] = v
	}
	record["event"] = event
	record["ts"] = e.now().UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(record)
	if err != nil {
		e.logger.Warn("failed to encode telemetry event", "event", event, "error", err)
		return
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(line); err != nil {
		e.logger.Warn("failed to write telemetry event", "event", event, "error", err)
	}
}

// Close flushes and closes a file-backed emitter. Safe on nil and on
// the stdout emitter.
func (e *Emitter) Close() error {
	if e == nil || e.closer == nil {
		return nil
	}
	return e.closer.Close()
}
