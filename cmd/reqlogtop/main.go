// Command reqlogtop is a live operator dashboard for the reqlog
// façade: it initializes a windowed pipeline, drives a small amount of
// synthetic request traffic through it, and renders the pending-scope
// gauge, batch-size history, and recent deliveries in a terminal UI.
// Grounded on syschecker's ui/tui/app.go (Start wiring a
// tea.NewProgram with AltScreen + mouse support over a StatsProvider).
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"reqlog"
)

// noopSink discards delivered batches; reqlogtop only cares about the
// feed's observation of them, not a real destination.
type noopSink struct{}

func (noopSink) Deliver(ctx context.Context, windowEnd int64, records []map[string]any) error {
	return nil
}

func main() {
	f := newFeed(noopSink{})

	cfg := reqlog.DefaultConfig().
		WithSink(f).
		WithBatchWindow(2 * time.Second)

	ctx := context.Background()
	if err := reqlog.Initialize(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "reqlogtop: initialize:", err)
		os.Exit(1)
	}

	go generateTraffic(f)

	p := tea.NewProgram(newModel(f), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "reqlogtop:", err)
		os.Exit(1)
	}
}

// generateTraffic opens and closes scopes at random intervals so the
// dashboard has something to show without a real caller wired in. Each
// simulated request runs begin-to-close on a single goroutine: the
// default context backend associates a scope with the goroutine that
// opened it, so handing the close off to a different goroutine would
// silently lose the scope.
func generateTraffic(f *feed) {
	paths := []string{"/users", "/orders", "/health", "/metrics"}
	for {
		time.Sleep(time.Duration(50+rand.Intn(200)) * time.Millisecond)

		path := paths[rand.Intn(len(paths))]
		go func() {
			h := reqlog.BeginGlobalLogRecord(map[string]any{"path": path})
			f.IncOpen()
			defer f.DecOpen()
			time.Sleep(time.Duration(10+rand.Intn(150)) * time.Millisecond)
			h.Close()
		}()
	}
}
