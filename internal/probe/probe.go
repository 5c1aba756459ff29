// Package probe captures process/OS resource metrics at the open and
// close of a scope, per spec.md §4.3. Unavailable probes are simply
// absent from the returned map — never zero-filled, never an error.
package probe

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
)

// dynoEnvVar is the deployment-identifier env var surfaced verbatim into
// the "dyno" field, following the Heroku convention the field name implies.
const dynoEnvVar = "DYNO"

// Snapshot is a captured probe reading, paired at Open and Close to
// compute the deltas spec.md §4.3 requires.
type Snapshot struct {
	haveCPU bool
	userCPU time.Duration
	sysCPU  time.Duration
	haveRSS bool
	maxRSS  uint64
}

// Open captures the probe fields recorded when a scope begins: pid, load
// average, dyno id, plus an initial CPU/RSS reading used later to compute
// deltas at Close.
func Open(ctx context.Context) (fields map[string]any, snap Snapshot) {
	fields = make(map[string]any, 4)
	fields["pid"] = os.Getpid()

	if avg, err := load.AvgWithContext(ctx); err == nil {
		fields["loadavg"] = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if dyno := os.Getenv(dynoEnvVar); dyno != "" {
		fields["dyno"] = dyno
	}

	return fields, readSelf(ctx)
}

// Close recaptures CPU and max-RSS, returning the deltas (user_ms, sys_ms,
// inc_max_rss) plus the absolute max_rss, relative to the Snapshot taken
// at Open.
func Close(ctx context.Context, opened Snapshot) map[string]any {
	fields := make(map[string]any, 4)
	closed := readSelf(ctx)

	if opened.haveCPU && closed.haveCPU {
		fields["user_ms"] = closed.userCPU.Milliseconds() - opened.userCPU.Milliseconds()
		fields["sys_ms"] = closed.sysCPU.Milliseconds() - opened.sysCPU.Milliseconds()
	}
	if closed.haveRSS {
		fields["max_rss"] = closed.maxRSS
		if opened.haveRSS {
			fields["inc_max_rss"] = int64(closed.maxRSS) - int64(opened.maxRSS)
		}
	}
	return fields
}

// readSelf samples the current process's CPU times (via gopsutil, the
// teacher's sensor library) and peak RSS (via the platform's rusage
// primitive — see maxrss_unix.go / maxrss_other.go).
func readSelf(ctx context.Context) Snapshot {
	var snap Snapshot

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if times, err := p.TimesWithContext(ctx); err == nil {
			snap.userCPU = time.Duration(times.User * float64(time.Second))
			snap.sysCPU = time.Duration(times.System * float64(time.Second))
			snap.haveCPU = true
		}
	}

	if rss, ok := maxRSS(); ok {
		snap.maxRSS = rss
		snap.haveRSS = true
	}
	return snap
}
