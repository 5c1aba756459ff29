// Package reqlog is the global façade (spec.md §4.6, C6): the
// process-wide entry point wiring together the record type
// (internal/record), the ambient-context registry (internal/ctxstack),
// the batching pipeline (internal/pipeline), and the emergency store
// (internal/emergency) into the handful of operations user code calls
// directly. Modeled on syschecker's CollectorConfig
// (internal/collector/config.go): an options struct with a
// Default constructor, With* builders, and a Validate method.
package reqlog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"reqlog/internal/ctxstack"
	"reqlog/internal/emergency"
	"reqlog/internal/pipeline"
	"reqlog/internal/probe"
	"reqlog/internal/record"
	"reqlog/metrics"
)

// Config configures Initialize. Use DefaultConfig and override with the
// With* builders, mirroring the teacher's CollectorConfig pattern.
type Config struct {
	Sink           pipeline.Sink
	BatchWindow    time.Duration
	ContextBackend ctxstack.Backend
	EmergencyPath  string
	Metrics        *metrics.Collectors
}

// DefaultConfig returns a Config with synchronous delivery and the
// default goroutine-keyed context backend; callers must still supply a
// Sink.
func DefaultConfig() Config {
	return Config{
		BatchWindow:   0,
		EmergencyPath: "",
	}
}

// WithSink returns a copy of c with the sink replaced.
func (c Config) WithSink(s pipeline.Sink) Config {
	c.Sink = s
	return c
}

// WithBatchWindow returns a copy of c with the batching window replaced.
// Zero selects synchronous mode.
func (c Config) WithBatchWindow(d time.Duration) Config {
	c.BatchWindow = d
	return c
}

// WithContextBackend returns a copy of c with the context backend
// replaced.
func (c Config) WithContextBackend(b ctxstack.Backend) Config {
	c.ContextBackend = b
	return c
}

// WithEmergencyPath returns a copy of c with the emergency store path
// replaced.
func (c Config) WithEmergencyPath(path string) Config {
	c.EmergencyPath = path
	return c
}

// WithMetrics returns a copy of c with Prometheus instrumentation
// wired in. Nil (the default) disables instrumentation entirely.
func (c Config) WithMetrics(m *metrics.Collectors) Config {
	c.Metrics = m
	return c
}

// Validate reports whether c is usable, mirroring CollectorConfig's
// ConfigError pattern.
func (c Config) Validate() error {
	if c.Sink == nil {
		return &ConfigError{Field: "Sink", Message: "must not be nil"}
	}
	if c.BatchWindow < 0 {
		return &ConfigError{Field: "BatchWindow", Message: "must not be negative"}
	}
	return nil
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "reqlog: config error: " + e.Field + " " + e.Message
}

// ErrConfigBusy is returned by Initialize when reconfiguration is
// attempted while a record is open. The worker's state is not checked.
var ErrConfigBusy = errors.New("reqlog: configuration busy, a record is open or the worker is running")

// ErrNoActiveScope is returned by SetContextBackend when it is called
// before Initialize. The Log* helpers do not return it.
var ErrNoActiveScope = errors.New("reqlog: no active scope for this execution context")

// ScopeError describes a fault by class and message. No function in
// this package creates or returns one.
type ScopeError struct {
	Class   string
	Message string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("reqlog: scope fault %s: %s", e.Class, e.Message)
}

// global holds the single process-wide façade state.
type global struct {
	mu       sync.Mutex
	pipeline *pipeline.Pipeline
	registry *ctxstack.Registry
	store    *emergency.Store
	metrics  *metrics.Collectors
	shutdown bool
	cfgSet   bool
}

var g = &global{}

// noScopeOnce limits the "no active scope" diagnostic of the Log*
// helpers to one line per process.
var noScopeOnce sync.Once

// Handle is returned by BeginGlobalLogRecord; closing it (directly, or
// via a deferred Close) calls FinishGlobalLogRecord(nil) if the caller
// does not supply an explicit error first.
type Handle struct {
	rec    *record.Record
	closed bool
}

// Close finishes the scope without a fault. Prefer
// FinishGlobalLogRecord(err) when the scope body can fail; Close exists
// so *Handle satisfies io.Closer for defer-based callers.
func (h *Handle) Close() error {
	if h == nil || h.closed {
		return nil
	}
	h.closed = true
	if h.rec != nil && h.rec.Closed() {
		return nil
	}
	FinishGlobalLogRecord(nil)
	return nil
}

// Initialize wires sink, batching, context backend, and emergency
// recovery into the process-wide façade. It is idempotent: the first
// call performs full setup (including recovery via LoadAndClear, fed
// into the pipeline ahead of new traffic). Later calls replace
// configuration only if no record is open anywhere; otherwise they fail
// with ErrConfigBusy. Whether the worker is in the middle of a sink call
// is not checked: the old pipeline is shut down without waiting for it.
func Initialize(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfgSet {
		// Reconfiguration is refused unless nothing is open anywhere.
		// SetBackend-to-self is a no-op swap that reuses the registry's
		// own busy tracking without actually changing anything.
		if err := g.registry.SetBackend(g.registry.Backend()); err != nil {
			return ErrConfigBusy
		}
		g.pipeline.Shutdown()
	}

	registry := ctxstack.New()
	if cfg.ContextBackend != nil {
		if err := registry.SetBackend(cfg.ContextBackend); err != nil {
			return ErrConfigBusy
		}
	}

	store := emergency.New(cfg.EmergencyPath)

	var pipelineMetrics pipeline.Metrics
	if cfg.Metrics != nil {
		pipelineMetrics = cfg.Metrics
	}
	p, err := pipeline.New(pipeline.Config{
		BatchWindow:    cfg.BatchWindow,
		Sink:           cfg.Sink,
		EmergencyStore: store,
		Metrics:        pipelineMetrics,
	})
	if err != nil {
		return err
	}

	recovered, err := store.LoadAndClear()
	if err != nil {
		log.Printf("reqlog: emergency recovery failed: %v", err)
	} else if len(recovered) > 0 {
		pipeline.ReplayRecovered(ctx, p, recovered)
	}

	p.Start(ctx)

	g.pipeline = p
	g.registry = registry
	g.store = store
	g.metrics = cfg.Metrics
	g.shutdown = false
	g.cfgSet = true
	return nil
}

// BeginGlobalLogRecord creates a record pre-populated with initial,
// triggers the open-time probe, and pushes it onto the calling
// context's stack. The returned Handle's Close (or an explicit
// FinishGlobalLogRecord call) pops it back off.
func BeginGlobalLogRecord(initial map[string]any) Handle {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		return Handle{closed: true}
	}
	registry := g.registry
	m := g.metrics
	g.mu.Unlock()

	rec := record.New(initial)

	fields, snap := probe.Open(context.Background())
	rec.MergeProbe(fields)
	rec.OpenProbe = snap

	if registry != nil {
		registry.Push(rec)
	}
	m.RecordOpened()

	return Handle{rec: rec}
}

// FinishGlobalLogRecord pops the current record (a no-op if none is
// open), applies exc as a fault if non-nil, runs the close-time probe,
// and hands the record to the pipeline.
func FinishGlobalLogRecord(exc error) {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		return
	}
	registry := g.registry
	p := g.pipeline
	m := g.metrics
	g.mu.Unlock()
	if registry == nil {
		return
	}

	cur, ok := registry.Current()
	if !ok {
		log.Printf("reqlog: finish called with no active scope")
		return
	}
	rec, ok := cur.(*record.Record)
	if !ok {
		return
	}
	registry.Pop()

	if exc != nil {
		rec.Fault(classOf(exc), exc.Error())
	}
	openSnap, _ := rec.OpenProbe.(probe.Snapshot)
	closeFields := probe.Close(context.Background(), openSnap)
	rec.MergeProbe(closeFields)
	rec.Close()
	m.RecordFinished(exc != nil)

	if p != nil {
		p.Submit(context.Background(), rec.Snapshot())
	}
}

func classOf(err error) string {
	return fmt.Sprintf("%T", err)
}

// current returns the innermost open record for the calling context, or
// nil if none. Log* helpers delegate here and no-op when nil, per
// spec.md §4.6. The first lookup in the process that finds no open scope
// logs one diagnostic.
func current() *record.Record {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		return nil
	}
	registry := g.registry
	g.mu.Unlock()
	if registry == nil {
		return nil
	}
	cur, ok := registry.Current()
	if !ok {
		noScopeOnce.Do(func() { log.Printf("reqlog: log call ignored, no active scope") })
		return nil
	}
	rec, _ := cur.(*record.Record)
	return rec
}

// LogValue merges kv into the current record's values. No-op if no
// scope is open.
func LogValue(kv map[string]any) {
	if rec := current(); rec != nil {
		rec.MergeValues(kv)
	}
}

// LogCounter adds n to counter name on the current record. No-op if no
// scope is open.
func LogCounter(name string, n int64) {
	if rec := current(); rec != nil {
		rec.AddCounter(name, n)
	}
}

// LogCounters adds each value in kv to its named counter on the current
// record. No-op if no scope is open.
func LogCounters(kv map[string]int64) {
	if rec := current(); rec != nil {
		for name, n := range kv {
			rec.AddCounter(name, n)
		}
	}
}

// LogTime starts a named timer on the current record, returning a
// stopwatch to stop it. Returns nil if no scope is open; Stop on a nil
// stopwatch is a safe no-op.
func LogTime(name string) *record.Stopwatch {
	if rec := current(); rec != nil {
		return rec.Time(name)
	}
	return nil
}

// SetContextBackend swaps the active context backend. Refused with
// ctxstack.ErrBackendBusy if any record is currently open anywhere.
func SetContextBackend(b ctxstack.Backend) error {
	g.mu.Lock()
	registry := g.registry
	g.mu.Unlock()
	if registry == nil {
		return ErrNoActiveScope
	}
	return registry.SetBackend(b)
}

// EmergencyShutdown halts the worker (no further ticks), persists any
// not-yet-delivered records to the emergency store, then returns. After
// it returns the façade is in a terminal state; further calls are
// no-ops.
func EmergencyShutdown() {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		return
	}
	p := g.pipeline
	g.shutdown = true
	g.mu.Unlock()

	if p != nil {
		p.Shutdown()
	}
}

// resetForTest tears down global façade state between test cases. Only
// intended for this module's own tests.
func resetForTest() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pipeline != nil {
		g.pipeline.Shutdown()
	}
	g.pipeline = nil
	g.registry = nil
	g.store = nil
	g.shutdown = false
	g.cfgSet = false
}
