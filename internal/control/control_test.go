package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGate(t *testing.T) {
	t.Parallel()

	t.Run("open while running", func(t *testing.T) {
		t.Parallel()
		c := New(discardLogger(), func() {})
		if err := c.Gate(context.Background()); err != nil {
			t.Fatalf("gate should pass: %v", err)
		}
	})

	t.Run("blocks while paused, opens on resume", func(t *testing.T) {
		t.Parallel()
		c := New(discardLogger(), func() {})
		c.Pause()

		done := make(chan error, 1)
		go func() { done <- c.Gate(context.Background()) }()

		select {
		case err := <-done:
			t.Fatalf("gate passed while paused: %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		c.Resume()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("gate after resume: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("gate did not open on resume")
		}
	})

	t.Run("fails once stopping", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		c := New(discardLogger(), cancel)
		c.Pause()
		c.Stop()
		if err := c.Gate(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("grace defers the hard cancel", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c := New(discardLogger(), cancel, WithGrace(30*time.Millisecond))

		c.Stop()
		// No new permits, but the run context keeps in-flight work alive.
		if err := c.Gate(ctx); !errors.Is(err, ErrStopped) {
			t.Fatalf("err = %v, want ErrStopped", err)
		}
		if ctx.Err() != nil {
			t.Fatal("context canceled before the grace period")
		}

		deadline := time.Now().Add(2 * time.Second)
		for ctx.Err() == nil && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if ctx.Err() == nil {
			t.Fatal("context never canceled after the grace period")
		}
	})

	t.Run("stop releases paused waiters", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c := New(discardLogger(), cancel, WithGrace(time.Minute))
		c.Pause()

		done := make(chan error, 1)
		go func() { done <- c.Gate(ctx) }()

		c.Stop()
		select {
		case err := <-done:
			if !errors.Is(err, ErrStopped) {
				t.Fatalf("err = %v, want ErrStopped", err)
			}
		case <-time.After(time.Second):
			t.Fatal("paused gate waiter never released on stop")
		}
	})

	t.Run("toggle flips state", func(t *testing.T) {
		t.Parallel()
		c := New(discardLogger(), func() {})
		c.Toggle()
		if !c.Paused() {
			t.Error("want paused after first toggle")
		}
		c.Toggle()
		if c.Paused() {
			t.Error("want running after second toggle")
		}
	})
}

func TestTransitionHook(t *testing.T) {
	t.Parallel()

	t.Run("observes pause and resume once each", func(t *testing.T) {
		t.Parallel()
		var seen []bool
		c := New(discardLogger(), func() {},
			WithTransitionHook(func(paused bool) { seen = append(seen, paused) }))

		c.Pause()
		c.Pause() // idempotent, no second callback
		c.Resume()
		c.Resume()

		if len(seen) != 2 || !seen[0] || seen[1] {
			t.Errorf("transitions = %v, want [true false]", seen)
		}
	})

	t.Run("stop does not look like a resume", func(t *testing.T) {
		t.Parallel()
		var seen []bool
		c := New(discardLogger(), func() {},
			WithTransitionHook(func(paused bool) { seen = append(seen, paused) }))

		c.Pause()
		c.Stop()
		c.Pause() // ignored while stopping

		if len(seen) != 1 || !seen[0] {
			t.Errorf("transitions = %v, want [true]", seen)
		}
	})
}

func TestWatchFile(t *testing.T) {
	t.Parallel()

	writeCommand := func(t *testing.T, path, cmd string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(cmd), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	waitFor := func(t *testing.T, cond func() bool, msg string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal(msg)
	}

	t.Run("pause and resume", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "control")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := New(discardLogger(), cancel)
		go c.WatchFile(ctx, path, 5*time.Millisecond)

		writeCommand(t, path, " PAUSE \n")
		waitFor(t, c.Paused, "never paused")

		writeCommand(t, path, "resume")
		waitFor(t, func() bool { return !c.Paused() }, "never resumed")
	})

	t.Run("stop cancels the run", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "control")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := New(discardLogger(), cancel)
		go c.WatchFile(ctx, path, 5*time.Millisecond)

		writeCommand(t, path, "stop")
		waitFor(t, func() bool { return ctx.Err() != nil }, "never stopped")
	})

	t.Run("empty file carries no command", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "control")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := New(discardLogger(), cancel)
		go c.WatchFile(ctx, path, 5*time.Millisecond)

		writeCommand(t, path, "pause")
		waitFor(t, c.Paused, "never paused")

		// Truncating the file must not resume a deliberate pause.
		writeCommand(t, path, "")
		time.Sleep(30 * time.Millisecond)
		if !c.Paused() {
			t.Error("empty control file resumed the crawl")
		}
	})

	t.Run("malformed command is ignored", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "control")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := New(discardLogger(), cancel)
		go c.WatchFile(ctx, path, 5*time.Millisecond)

		writeCommand(t, path, "panic")
		time.Sleep(30 * time.Millisecond)
		if c.Paused() || ctx.Err() != nil {
			t.Error("malformed command changed state")
		}
	})
}
