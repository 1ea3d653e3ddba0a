package fsapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redblackgraph/fscrawl/internal/config"
	"github.com/redblackgraph/fscrawl/internal/model"
	"github.com/redblackgraph/fscrawl/internal/ratelimit"
	"github.com/redblackgraph/fscrawl/internal/session"
)

// testThrottle is a profile fast enough to keep retry tests under a
// second.
func testThrottle() config.Throttle {
	return config.Throttle{
		RequestsPerSecond:       1000,
		PersonConcurrency:       4,
		RelationshipConcurrency: 4,
		MaxRetries:              2,
		BackoffBase:             time.Millisecond,
		BackoffMultiplier:       2,
		BackoffMax:              10 * time.Millisecond,
	}
}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	s := session.New(server.URL, "test-session")
	return NewClient(s, ratelimit.New(testThrottle()), discardLogger())
}

func TestClientFetchPersons(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("pids"); got != "P1,P2" {
				t.Errorf("pids = %q, want P1,P2", got)
			}
			w.Write([]byte(`{"persons": [{"id": "P1"}, {"id": "P2"}]}`))
		}))

		got, err := client.FetchPersons(context.Background(), []model.PID{"P1", "P2"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Individuals) != 2 {
			t.Errorf("individuals = %d, want 2", len(got.Individuals))
		}
	})

	t.Run("no content means no survivors", func(t *testing.T) {
		t.Parallel()
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		got, err := client.FetchPersons(context.Background(), []model.PID{"P1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Individuals) != 0 {
			t.Errorf("individuals = %d, want 0", len(got.Individuals))
		}
	})

	t.Run("recovers from throttling", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"persons": [{"id": "P1"}]}`))
		}))

		got, err := client.FetchPersons(context.Background(), []model.PID{"P1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Individuals) != 1 {
			t.Errorf("individuals = %d, want 1", len(got.Individuals))
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
	})

	t.Run("retry budget exhausted", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		_, err := client.FetchPersons(context.Background(), []model.PID{"P1"})
		if err == nil {
			t.Fatal("want error after exhausting retries")
		}
		if !session.IsThrottled(err) {
			t.Errorf("error does not unwrap to throttled: %v", err)
		}
		// Initial attempt plus MaxRetries retries.
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := client.FetchPersons(context.Background(), []model.PID{"P1"})
		if !session.IsPermanent(err) {
			t.Fatalf("err = %v, want permanent", err)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})

	t.Run("auth expiry surfaces immediately", func(t *testing.T) {
		t.Parallel()
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.FetchPersons(context.Background(), []model.PID{"P1"})
		if !errors.Is(err, session.ErrAuthExpired) {
			t.Fatalf("err = %v, want ErrAuthExpired", err)
		}
	})
}

func TestClientFetchRelationship(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/platform/tree/child-and-parents-relationships/MXVQ-K92.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"childAndParentsRelationships": [{
			"id": "MXVQ-K92",
			"parent1": {"resourceId": "PF"},
			"child": {"resourceId": "PC"},
			"parent1Facts": [{"type": "http://gedcomx.org/BiologicalParent"}]
		}]}`))
	}))

	got, err := client.FetchRelationship(context.Background(), "MXVQ-K92")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Edges) != 1 || got.Edges[0].Type != model.TypeBiologicalParent {
		t.Fatalf("edges = %+v", got.Edges)
	}
}

func TestClientFetchPersonBatches(t *testing.T) {
	t.Parallel()

	t.Run("all batches delivered", func(t *testing.T) {
		t.Parallel()
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"persons": [{"id": "P1"}]}`))
		}))

		pids := make([]model.PID, 5)
		for i := range pids {
			pids[i] = model.PID(string(rune('A' + i)))
		}

		var mu sync.Mutex
		var batches int
		err := client.FetchPersonBatches(context.Background(), pids, 2, 0,
			func(res BatchResult) error {
				mu.Lock()
				defer mu.Unlock()
				if res.Err != nil {
					t.Errorf("batch error: %v", res.Err)
				}
				batches++
				return nil
			})
		if err != nil {
			t.Fatal(err)
		}
		if batches != 3 {
			t.Errorf("batches = %d, want 3", batches)
		}
	})

	t.Run("failed batch reaches the handler", func(t *testing.T) {
		t.Parallel()
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		var failed []model.PID
		err := client.FetchPersonBatches(context.Background(), []model.PID{"P1"}, 10, 0,
			func(res BatchResult) error {
				if res.Err == nil {
					t.Error("want a delivered batch error")
				}
				failed = append(failed, res.PIDs...)
				return nil
			})
		if err != nil {
			t.Fatal(err)
		}
		if len(failed) != 1 || failed[0] != "P1" {
			t.Errorf("failed pids = %v", failed)
		}
	})

	t.Run("handler error aborts dispatch", func(t *testing.T) {
		t.Parallel()
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))

		wantErr := errors.New("stop here")
		err := client.FetchPersonBatches(context.Background(), []model.PID{"P1", "P2"}, 1, 0,
			func(res BatchResult) error { return wantErr })
		if !errors.Is(err, wantErr) {
			t.Fatalf("err = %v, want handler error", err)
		}
	})
}
