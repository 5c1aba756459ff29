// Package pipeline implements the batching pipeline (spec.md §4.4, C4):
// it accumulates finished records into wall-clock-aligned windows and
// drives a sink on a background worker, with a synchronous fast path
// for batch_window_s == 0. Grounded on the worker lifecycle of
// syschecker's internal/database.DataWorker (mutex-guarded
// start/stop, context.CancelFunc, sync.WaitGroup, time.Ticker loop).
package pipeline

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

// Batch is the tuple spec.md §3 calls out: a window boundary paired
// with the records that finished inside it, in finish order.
type Batch struct {
	WindowEnd int64
	Records   []map[string]any
}

// Sink is the pluggable consumer spec.md §4.4 describes: a callable
// receiving one window's worth of records at a time. A sink may be
// called from the background worker goroutine (windowed mode) or the
// producer's own goroutine (synchronous mode); it must not assume
// either.
type Sink interface {
	Deliver(ctx context.Context, windowEnd int64, records []map[string]any) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, windowEnd int64, records []map[string]any) error

func (f SinkFunc) Deliver(ctx context.Context, windowEnd int64, records []map[string]any) error {
	return f(ctx, windowEnd, records)
}

// Clock abstracts wall-clock time so tests can control window
// boundaries deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// EmergencyStore is the persistence escape hatch (spec.md §4.5, C5).
// Pipeline depends only on this narrow interface so it can be wired to
// internal/emergency without an import cycle.
type EmergencyStore interface {
	Save(batches []Batch) error
}

// Metrics is the narrow instrumentation surface the pipeline drives.
// metrics.Collectors satisfies this without pipeline importing that
// package directly.
type Metrics interface {
	BatchDelivered(size int)
	SinkFailed()
	EmergencySaved()
}

// Config configures a Pipeline. Zero BatchWindow selects synchronous
// mode. EmergencyStore and Clock are optional; nil disables recovery
// persistence and defaults to the system clock respectively.
type Config struct {
	BatchWindow    time.Duration
	Sink           Sink
	Clock          Clock
	EmergencyStore EmergencyStore
	Metrics        Metrics
}

// ErrNilSink is returned by New when no sink is configured.
var ErrNilSink = errors.New("pipeline: sink is required")

// Pipeline owns the accumulator, the background worker (windowed mode
// only), and handoff to the emergency store on sink failure.
type Pipeline struct {
	sink    Sink
	window  time.Duration
	clock   Clock
	store   EmergencyStore
	metrics Metrics

	mu         sync.Mutex
	pending    []map[string]any // double-buffered: swapped out atomically on each flush
	retryQueue []Batch          // batches a sink failure couldn't deliver, held for Shutdown
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// New constructs a Pipeline from cfg. It does not start the background
// worker; call Start for windowed mode. Synchronous mode (BatchWindow
// == 0) needs no Start call.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Sink == nil {
		return nil, ErrNilSink
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Pipeline{
		sink:    cfg.Sink,
		window:  cfg.BatchWindow,
		clock:   clock,
		store:   cfg.EmergencyStore,
		metrics: cfg.Metrics,
	}, nil
}

// Windowed reports whether this pipeline batches on a timer rather than
// delivering synchronously.
func (p *Pipeline) Windowed() bool { return p.window > 0 }

// Submit hands a finished record to the pipeline. In synchronous mode
// it calls the sink inline, with window_end_timestamp == now() per
// spec.md §4.4's pinned Open Question answer. In windowed mode it
// appends to the current window's accumulator.
func (p *Pipeline) Submit(ctx context.Context, rec map[string]any) {
	if !p.Windowed() {
		now := p.clock.Now().Unix()
		p.deliver(ctx, now, []map[string]any{rec})
		return
	}
	p.mu.Lock()
	p.pending = append(p.pending, rec)
	p.mu.Unlock()
}

// Start launches the background worker for windowed mode. It is a
// no-op if already running or if the pipeline is synchronous.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.Windowed() {
		return
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	p.mu.Unlock()

	go p.loop(workerCtx)
}

// loop wakes at successive wall-clock boundaries, each the next multiple
// of window strictly after now ((floor(now/window)+1)*window), so that
// timer skew never accumulates across ticks.
func (p *Pipeline) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		next := nextBoundary(p.clock.Now(), p.window)
		timer := time.NewTimer(next.Sub(p.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.flush(ctx, next.Unix())
		}
	}
}

func nextBoundary(now time.Time, window time.Duration) time.Time {
	unixNanos := now.UnixNano()
	w := window.Nanoseconds()
	boundary := ((unixNanos / w) + 1) * w
	return time.Unix(0, boundary)
}

// flush swaps out the accumulator and, if non-empty, invokes the sink.
// An empty window never calls the sink (spec.md §4.4).
func (p *Pipeline) flush(ctx context.Context, windowEnd int64) {
	p.mu.Lock()
	records := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(records) == 0 {
		return
	}
	p.deliver(ctx, windowEnd, records)
}

// deliver invokes the sink and, on failure, queues the batch for retry
// persistence at Shutdown rather than touching the emergency store
// immediately: spec.md §6 reserves the store file for initialize and
// shutdown only, never concurrently with producer/worker traffic. A
// sink failure never propagates to producers.
func (p *Pipeline) deliver(ctx context.Context, windowEnd int64, records []map[string]any) {
	if err := p.sink.Deliver(ctx, windowEnd, records); err != nil {
		log.Printf("pipeline: sink delivery failed for window %d: %v", windowEnd, err)
		if p.metrics != nil {
			p.metrics.SinkFailed()
		}
		p.mu.Lock()
		p.retryQueue = append(p.retryQueue, Batch{WindowEnd: windowEnd, Records: records})
		p.mu.Unlock()
		return
	}
	if p.metrics != nil {
		p.metrics.BatchDelivered(len(records))
	}
}

// Shutdown halts the background worker without waiting on an in-flight
// sink call (spec.md §6), then persists both the current in-memory
// accumulator and any batches queued for retry by a prior sink failure
// (spec.md §4.4) to the emergency store in a single Save call, so
// EmergencyShutdown at the facade layer can compose with this. Safe to
// call even if Start was never called (synchronous mode, or windowed
// but idle).
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.running = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Deliberately not p.wg.Wait(): an in-flight sink call is left
	// running as spec.md §6 requires; its own success/failure path
	// decides that batch's fate independently of this shutdown.

	p.mu.Lock()
	leftover := p.pending
	p.pending = nil
	toSave := p.retryQueue
	p.retryQueue = nil
	p.mu.Unlock()

	if len(leftover) > 0 {
		toSave = append(toSave, Batch{WindowEnd: p.clock.Now().Unix(), Records: leftover})
	}
	if len(toSave) == 0 || p.store == nil {
		return
	}
	if err := p.store.Save(toSave); err != nil {
		log.Printf("pipeline: emergency save on shutdown failed: %v", err)
		return
	}
	if p.metrics != nil {
		p.metrics.EmergencySaved()
	}
}

// ReplayRecovered delivers batches recovered from the emergency store
// (spec.md §4.5) to the sink immediately, one sink call per batch in
// ascending window_end_timestamp order, with each batch's original
// window_end_timestamp preserved. A batch the sink rejects joins the
// retry queue like any other failed delivery. Called once at facade
// Initialize, before any producer traffic is admitted.
func ReplayRecovered(ctx context.Context, p *Pipeline, batches []Batch) {
	sort.Slice(batches, func(i, j int) bool { return batches[i].WindowEnd < batches[j].WindowEnd })
	for _, b := range batches {
		p.deliver(ctx, b.WindowEnd, b.Records)
	}
}
