package probe

import (
	"context"
	"os"
	"testing"
)

func TestOpenCloseNeverErrorsAndNeverZeroFills(t *testing.T) {
	ctx := context.Background()
	fields, snap := Open(ctx)

	if fields["pid"] != os.Getpid() {
		t.Fatalf("pid = %v, want %d", fields["pid"], os.Getpid())
	}
	// loadavg/dyno may legitimately be absent on this platform/environment;
	// the contract is "absent", not an error and not a zero value.
	if v, ok := fields["loadavg"]; ok {
		if _, isSlice := v.([]float64); !isSlice {
			t.Fatalf("loadavg present but wrong type: %T", v)
		}
	}

	close := Close(ctx, snap)
	if ms, ok := close["user_ms"]; ok {
		if _, isInt := ms.(int64); !isInt {
			t.Fatalf("user_ms present but wrong type: %T", ms)
		}
	}
}

func TestDynoSurfacedVerbatim(t *testing.T) {
	t.Setenv(dynoEnvVar, "web.1")
	fields, _ := Open(context.Background())
	if fields["dyno"] != "web.1" {
		t.Fatalf("dyno = %v, want web.1", fields["dyno"])
	}
}

func TestDynoAbsentWhenUnset(t *testing.T) {
	t.Setenv(dynoEnvVar, "")
	fields, _ := Open(context.Background())
	if _, ok := fields["dyno"]; ok {
		t.Fatalf("dyno must be absent, not zero-filled, when unset")
	}
}
