package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reqlog/internal/pipeline"
)

const (
	maxBatchHistory = 31 // mirrors syschecker's CPUHistoryCapacity default
	maxEventLog     = 100
)

// feed is the dashboard's live data source: a pipeline.Sink decorator
// that records what it sees for rendering, then forwards to inner.
// Grounded on syschecker's collector.StatsProvider — something the TUI
// polls every tick rather than a push subscription — except here the
// dashboard and the sink share memory directly instead of polling a
// collector goroutine, since it sits in the same process as the
// pipeline it's observing.
type feed struct {
	mu          sync.Mutex
	inner       pipeline.Sink
	batchSizes  []int
	events      []string
	recordsOpen int
}

func newFeed(inner pipeline.Sink) *feed {
	return &feed{inner: inner, batchSizes: make([]int, 0, maxBatchHistory)}
}

func (f *feed) Deliver(ctx context.Context, windowEnd int64, records []map[string]any) error {
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(records))
	if len(f.batchSizes) > maxBatchHistory {
		f.batchSizes = f.batchSizes[1:]
	}
	f.events = append(f.events, fmt.Sprintf("[%s] window=%d records=%d",
		time.Now().Format("15:04:05"), windowEnd, len(records)))
	if len(f.events) > maxEventLog {
		f.events = f.events[1:]
	}
	f.mu.Unlock()

	return f.inner.Deliver(ctx, windowEnd, records)
}

// IncOpen/DecOpen track the open-scope gauge. The demo traffic
// generator in main.go calls these directly around each
// reqlog.BeginGlobalLogRecord/FinishGlobalLogRecord pair, since this
// binary is the one driving its own synthetic load rather than
// instrumenting an arbitrary caller.
func (f *feed) IncOpen() {
	f.mu.Lock()
	f.recordsOpen++
	f.mu.Unlock()
}

func (f *feed) DecOpen() {
	f.mu.Lock()
	f.recordsOpen--
	f.mu.Unlock()
}

type snapshot struct {
	batchSizes  []int
	events      []string
	recordsOpen int
}

func (f *feed) snapshot() snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return snapshot{
		batchSizes:  append([]int(nil), f.batchSizes...),
		events:      append([]string(nil), f.events...),
		recordsOpen: f.recordsOpen,
	}
}
