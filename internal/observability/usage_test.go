package observability

import (
	"testing"
	"time"
)

func TestUsageTrackerDistribution(t *testing.T) {
	tr := NewUsageTracker()

	tr.Record("Sarah Chen", 50*time.Millisecond, true)
	tr.Record("Sarah Chen", 250*time.Millisecond, true)
	tr.Record("Marcus Thompson", 800*time.Millisecond, true)
	tr.Record("Marcus Thompson", 1500*time.Millisecond, false)
	tr.Record("Tony Rodriguez", 3*time.Second, true)

	snap := tr.Snapshot()
	if snap.TotalRequests != 5 {
		t.Fatalf("TotalRequests = %d, want 5", snap.TotalRequests)
	}
	if snap.TotalErrors != 1 {
		t.Fatalf("TotalErrors = %d, want 1", snap.TotalErrors)
	}

	want := map[string]int64{
		"<100ms":    1,
		"100-500ms": 1,
		"500ms-1s":  1,
		"1s-2s":     1,
		">2s":       1,
	}
	for label, n := range want {
		if snap.Distribution[label] != n {
			t.Fatalf("Distribution[%s] = %d, want %d", label, snap.Distribution[label], n)
		}
	}
}

func TestUsageTrackerPerCharacter(t *testing.T) {
	tr := NewUsageTracker()
	tr.Record("Sarah Chen", 100*time.Millisecond, true)
	tr.Record("Sarah Chen", 300*time.Millisecond, false)

	snap := tr.Snapshot()
	u, ok := snap.PerCharacter["Sarah Chen"]
	if !ok {
		t.Fatalf("missing character usage entry")
	}
	if u.Requests != 2 || u.Errors != 1 {
		t.Fatalf("usage = %+v, want 2 requests, 1 error", u)
	}
	if u.AvgLatency != 200 {
		t.Fatalf("AvgLatency = %v, want 200", u.AvgLatency)
	}
}

func TestUsageTrackerErrorRate(t *testing.T) {
	tr := NewUsageTracker()
	snap := tr.Snapshot()
	if snap.ErrorRate != 0 {
		t.Fatalf("ErrorRate with no traffic = %v, want 0", snap.ErrorRate)
	}

	tr.Record("x", time.Millisecond, false)
	tr.Record("x", time.Millisecond, true)
	if got := tr.Snapshot().ErrorRate; got != 0.5 {
		t.Fatalf("ErrorRate = %v, want 0.5", got)
	}
}
