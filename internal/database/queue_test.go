package database

import (
	"context"
	"testing"

	"github.com/redblackgraph/fscrawl/internal/model"
)

func TestAddToFrontier(t *testing.T) {
	t.Parallel()
	cdb := openTestDB(t)
	ctx := context.Background()

	if err := cdb.AddToFrontier(ctx, []model.PID{"A", "B", "A"}); err != nil {
		t.Fatal(err)
	}
	frontier, err := cdb.PeekFrontier(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(frontier) != 2 || frontier[0] != "A" || frontier[1] != "B" {
		t.Errorf("frontier = %v, want [A B]", frontier)
	}

	// A resolved pid never re-enters the frontier.
	if err := cdb.AddIndividual(ctx, &model.Individual{ID: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := cdb.AddToFrontier(ctx, []model.PID{"A"}); err != nil {
		t.Fatal(err)
	}
	frontier, _ = cdb.PeekFrontier(ctx, 0)
	if len(frontier) != 1 || frontier[0] != "B" {
		t.Errorf("frontier = %v, want [B]", frontier)
	}
}

func TestFrontierOrderSurvivesRequeue(t *testing.T) {
	t.Parallel()
	cdb := openTestDB(t)
	ctx := context.Background()

	if err := cdb.AddToFrontier(ctx, []model.PID{"A", "B", "C"}); err != nil {
		t.Fatal(err)
	}
	// Promote everything, then push A back; it must queue behind C.
	if _, err := cdb.StartIteration(ctx, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := cdb.ReturnToFrontier(ctx, []model.PID{"C", "A"}); err != nil {
		t.Fatal(err)
	}
	frontier, err := cdb.PeekFrontier(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(frontier) != 2 || frontier[0] != "C" || frontier[1] != "A" {
		t.Errorf("frontier = %v, want [C A]", frontier)
	}
}

func TestSeedFrontierIfEmpty(t *testing.T) {
	t.Parallel()
	cdb := openTestDB(t)
	ctx := context.Background()

	seeded, err := cdb.SeedFrontierIfEmpty(ctx, []model.PID{"A"})
	if err != nil {
		t.Fatal(err)
	}
	if !seeded {
		t.Fatal("fresh store not seeded")
	}

	// Any existing state suppresses reseeding.
	seeded, err = cdb.SeedFrontierIfEmpty(ctx, []model.PID{"B"})
	if err != nil {
		t.Fatal(err)
	}
	if seeded {
		t.Error("non-empty store reseeded")
	}
	frontier, _ := cdb.PeekFrontier(ctx, 0)
	if len(frontier) != 1 || frontier[0] != "A" {
		t.Errorf("frontier = %v, want [A]", frontier)
	}
}

func TestStartIteration(t *testing.T) {
	t.Parallel()

	t.Run("promotes oldest first", func(t *testing.T) {
		t.Parallel()
		cdb := openTestDB(t)
		ctx := context.Background()

		if err := cdb.AddToFrontier(ctx, []model.PID{"A", "B", "C"}); err != nil {
			t.Fatal(err)
		}
		promoted, err := cdb.StartIteration(ctx, 0, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(promoted) != 2 || promoted[0] != "A" || promoted[1] != "B" {
			t.Errorf("promoted = %v, want [A B]", promoted)
		}
		frontier, _ := cdb.PeekFrontier(ctx, 0)
		if len(frontier) != 1 || frontier[0] != "C" {
			t.Errorf("frontier = %v, want [C]", frontier)
		}
		inflight, _ := cdb.IDsToProcess(ctx)
		if len(inflight) != 2 {
			t.Errorf("processing = %v", inflight)
		}
	})

	t.Run("non-empty processing set is returned verbatim", func(t *testing.T) {
		t.Parallel()
		cdb := openTestDB(t)
		ctx := context.Background()

		if err := cdb.AddToFrontier(ctx, []model.PID{"A", "B"}); err != nil {
			t.Fatal(err)
		}
		first, err := cdb.StartIteration(ctx, 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(first) != 1 || first[0] != "A" {
			t.Fatalf("first promotion = %v", first)
		}

		// A crashed process left A in flight; the restart must get A
		// again and must not drain B.
		recovered, err := cdb.StartIteration(ctx, 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(recovered) != 1 || recovered[0] != "A" {
			t.Errorf("recovered = %v, want [A]", recovered)
		}
		frontier, _ := cdb.PeekFrontier(ctx, 0)
		if len(frontier) != 1 || frontier[0] != "B" {
			t.Errorf("frontier = %v, want [B]", frontier)
		}
	})

	t.Run("empty frontier promotes nothing", func(t *testing.T) {
		t.Parallel()
		cdb := openTestDB(t)
		promoted, err := cdb.StartIteration(context.Background(), 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(promoted) != 0 {
			t.Errorf("promoted = %v", promoted)
		}
	})
}
