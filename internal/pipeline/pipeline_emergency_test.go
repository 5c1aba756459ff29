package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"reqlog/internal/emergency"
	"reqlog/internal/pipeline"
)

type flakySink struct{}

func (flakySink) Deliver(ctx context.Context, windowEnd int64, records []map[string]any) error {
	return errors.New("sink unavailable")
}

// TestShutdownAgainstRealStoreKeepsAllFailedBatches exercises
// internal/emergency.Store directly (not a test fake) across two
// independent sink failures plus a still-pending accumulator: a
// regression check for the case where a later Save silently clobbered
// an earlier one on disk.
func TestShutdownAgainstRealStoreKeepsAllFailedBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emergency.json")
	store := emergency.New(path)

	p, err := pipeline.New(pipeline.Config{
		BatchWindow:    time.Minute,
		Sink:           flakySink{},
		EmergencyStore: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	// Two independent failed deliveries, queued in memory rather than
	// written to disk one at a time.
	pipeline.ReplayRecovered(ctx, p, []pipeline.Batch{
		{WindowEnd: 1, Records: []map[string]any{{"seq": "a"}}},
	})
	pipeline.ReplayRecovered(ctx, p, []pipeline.Batch{
		{WindowEnd: 2, Records: []map[string]any{{"seq": "b"}}},
	})

	// Windowed mode: Submit only appends, it never calls the sink, so
	// this record is still sitting in the live accumulator at shutdown.
	p.Submit(ctx, map[string]any{"seq": "c"})

	p.Shutdown()

	recovered, err := store.LoadAndClear()
	if err != nil {
		t.Fatalf("LoadAndClear: %v", err)
	}
	if len(recovered) != 3 {
		t.Fatalf("got %d recovered batches, want 3 (2 retried + 1 leftover): %v", len(recovered), recovered)
	}
}
