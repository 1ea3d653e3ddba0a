package telemetry

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestEventNames pins the wire vocabulary. Scripts tailing the
// metrics stream match on these strings, so a drift here breaks them
// even though nothing in this module would notice.
func TestEventNames(t *testing.T) {
	t.Parallel()

	want := map[string]string{
		EventRunStarted:         "run_start",
		EventIterationStarted:   "iteration_start",
		EventBatchCompleted:     "person_batch",
		EventBatchFailed:        "person_batch_failed",
		EventCheckpoint:         "checkpoint",
		EventIterationCompleted: "iteration_complete",
		EventResolutionStarted:  "relationships_start",
		EventResolutionDone:     "relationships_complete",
		EventPaused:             "paused",
		EventResumed:            "resumed",
		EventRunCompleted:       "run_complete",
		EventRunAborted:         "run_aborted",
	}
	for got, name := range want {
		if got != name {
			t.Errorf("event constant = %q, want %q", got, name)
		}
	}
}

func TestEmitter(t *testing.T) {
	t.Parallel()

	t.Run("nil emitter drops events", func(t *testing.T) {
		t.Parallel()
		var e *Emitter
		e.Emit(EventRunStarted, map[string]any{"seeds": 1})
		if err := e.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("empty path disables the stream", func(t *testing.T) {
		t.Parallel()
		e, err := NewEmitter("", discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		if e != nil {
			t.Fatal("want nil emitter for empty path")
		}
	})

	t.Run("file emitter writes one JSON object per line", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "metrics.jsonl")

		e, err := NewEmitter(path, discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		e.now = func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		}

		e.Emit(EventIterationStarted, map[string]any{"iteration": 0, "frontier": 2})
		e.Emit(EventIterationCompleted, map[string]any{"iteration": 0})
		if err := e.Close(); err != nil {
			t.Fatal(err)
		}

		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		var lines []map[string]any
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var record map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
				t.Fatalf("line is not valid JSON: %v", err)
			}
			lines = append(lines, record)
		}
		if len(lines) != 2 {
			t.Fatalf("lines = %d, want 2", len(lines))
		}
		if lines[0]["event"] != EventIterationStarted {
			t.Errorf("event = %v", lines[0]["event"])
		}
		if lines[0]["iteration"] != float64(0) || lines[0]["frontier"] != float64(2) {
			t.Errorf("fields = %v", lines[0])
		}
		ts, _ := lines[0]["ts"].(string)
		if !strings.HasPrefix(ts, "2026-03-01T12:00:00") {
			t.Errorf("ts = %q", ts)
		}
	})

	t.Run("append preserves earlier runs", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "metrics.jsonl")

		for range 2 {
			e, err := NewEmitter(path, discardLogger())
			if err != nil {
				t.Fatal(err)
			}
			e.Emit(EventRunStarted, nil)
			if err := e.Close(); err != nil {
				t.Fatal(err)
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if got := strings.Count(string(data), "\n"); got != 2 {
			t.Errorf("lines = %d, want 2", got)
		}
	})
}
