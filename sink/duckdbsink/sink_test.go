package duckdbsink

import (
	"context"
	"testing"
)

func TestDeliverInsertsOneRowPerRecord(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "", Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	records := []map[string]any{
		{"path": "/a", "fault": 0},
		{"path": "/b", "fault": 1},
	}
	if err := s.Deliver(ctx, 100, records); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	n, err := s.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d rows, want 2", n)
	}
}

func TestDeliverAcrossMultipleBatchesAccumulates(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "", Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Deliver(ctx, 10, []map[string]any{{"path": "/a", "fault": 0}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := s.Deliver(ctx, 20, []map[string]any{{"path": "/b", "fault": 0}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	n, err := s.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d rows, want 2", n)
	}
}
