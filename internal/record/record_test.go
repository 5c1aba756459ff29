package record

import (
	"testing"
	"time"
)

func TestCounterAdditivity(t *testing.T) {
	r := New(nil)
	r.AddCounter("rows", 5)
	r.AddCounter("rows", 2)
	r.Close()

	snap := r.Snapshot()
	if got := snap["rows"]; got != int64(7) {
		t.Fatalf("rows = %v, want 7", got)
	}
}

func TestTimerAccountingNonOverlapping(t *testing.T) {
	r := New(nil)
	for i := 0; i < 2; i++ {
		sw := r.Time("db")
		time.Sleep(20 * time.Millisecond)
		sw.Stop()
	}
	r.Close()

	snap := r.Snapshot()
	if got := snap["db_cnt"]; got != int64(2) {
		t.Fatalf("db_cnt = %v, want 2", got)
	}
	ms, _ := snap["db_ms"].(int64)
	if ms < 30 {
		t.Fatalf("db_ms = %v, want at least ~40ms for two 20ms timers", ms)
	}
}

func TestOverlapAdditivity(t *testing.T) {
	r := New(nil)
	sw1 := r.Time("t")
	sw2 := r.Time("t")
	time.Sleep(20 * time.Millisecond)
	sw1.Stop()
	time.Sleep(20 * time.Millisecond)
	sw2.Stop()
	r.Close()

	snap := r.Snapshot()
	if got := snap["t_cnt"]; got != int64(2) {
		t.Fatalf("t_cnt = %v, want 2", got)
	}
	ms, _ := snap["t_ms"].(int64)
	// sw1 ~20ms, sw2 ~40ms => sum ~60ms, never the union (~40ms)
	if ms < 50 {
		t.Fatalf("t_ms = %v, want sum of both durations (~60ms), not their union", ms)
	}
}

func TestValueIdempotenceAndLastWriterWins(t *testing.T) {
	r := New(nil)
	r.Set("k", "a")
	r.Set("k", "a")
	snap := r.Snapshot()
	if snap["k"] != "a" {
		t.Fatalf("k = %v, want a", snap["k"])
	}

	r2 := New(nil)
	r2.Set("k", "a")
	r2.Set("k", "b")
	snap2 := r2.Snapshot()
	if snap2["k"] != "b" {
		t.Fatalf("k = %v, want b (last writer wins)", snap2["k"])
	}
}

func TestMutationsRejectedAfterClose(t *testing.T) {
	r := New(nil)
	r.Set("a", 1)
	r.Close()
	r.Set("a", 2)
	r.AddCounter("c", 1)

	snap := r.Snapshot()
	if snap["a"] != 1 {
		t.Fatalf("a = %v, want 1 (mutation after close must be a no-op)", snap["a"])
	}
	if _, ok := snap["c"]; ok {
		t.Fatalf("counter set after close leaked into snapshot")
	}
}

func TestFaultLabeling(t *testing.T) {
	clean := New(nil)
	clean.Close()
	if clean.Snapshot()[KeyFault] != 0 {
		t.Fatalf("clean scope must have fault=0")
	}

	faulted := New(nil)
	faulted.Fault("ValueError", "bad")
	faulted.Close()
	snap := faulted.Snapshot()
	if snap[KeyFault] != 1 {
		t.Fatalf("faulted scope must have fault=1")
	}
	if snap[KeyErrorClass] != "ValueError" || snap[KeyErrorMessage] != "bad" {
		t.Fatalf("error fields not recorded: %+v", snap)
	}
}

func TestSystemKeyWinsOverUserCollision(t *testing.T) {
	r := New(map[string]any{"fault": "user-value"})
	r.Close()
	if r.Snapshot()[KeyFault] != 0 {
		t.Fatalf("system-reserved key must win over a user-set collision")
	}
}

func TestStartBeforeOrEqualEnd(t *testing.T) {
	r := New(nil)
	r.Close()
	snap := r.Snapshot()
	start, err1 := time.Parse(time.RFC3339Nano, snap[KeyStartTime].(string))
	end, err2 := time.Parse(time.RFC3339Nano, snap[KeyEndTime].(string))
	if err1 != nil || err2 != nil {
		t.Fatalf("timestamps must parse as RFC3339: %v %v", err1, err2)
	}
	if start.After(end) {
		t.Fatalf("start_time must be <= end_time")
	}
}
