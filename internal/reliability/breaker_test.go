package reliability

import (
	"errors"
	"testing"
	"time"
)

func newTestBreaker(threshold int, reset, window time.Duration) (*CircuitBreaker, *time.Time) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		MonitoringWindow: window,
	})
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, time.Minute, 5*time.Minute)
	boom := errors.New("synthesis failed")

	for i := 0; i < 4; i++ {
		if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Execute() error = %v, want %v", err, boom)
		}
		if got := b.Snapshot().State; got != StateClosed {
			t.Fatalf("state after %d failures = %s, want CLOSED", i+1, got)
		}
	}

	if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want %v", err, boom)
	}
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state after threshold = %s, want OPEN", got)
	}
}

func TestBreakerFailsFastWithoutInvokingOperation(t *testing.T) {
	b, _ := newTestBreaker(5, time.Minute, 5*time.Minute)
	boom := errors.New("synthesis failed")

	for i := 0; i < 5; i++ {
		_ = b.Execute(func() error { return boom })
	}

	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Fatalf("operation invoked while breaker open")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute, 5*time.Minute)
	boom := errors.New("down")

	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}

	// Probe succeeds after the reset timeout: breaker closes again.
	*now = now.Add(61 * time.Second)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe Execute() error = %v", err)
	}
	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Fatalf("state after successful probe = %s, want CLOSED", snap.State)
	}
	if snap.FailureCount != 0 {
		t.Fatalf("failure count after reset = %d, want 0", snap.FailureCount)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute, 5*time.Minute)
	boom := errors.New("down")

	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })

	*now = now.Add(61 * time.Second)
	if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("probe Execute() error = %v, want %v", err, boom)
	}
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state after failed probe = %s, want OPEN", got)
	}

	// Still open right after the failed probe.
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerAllowsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute, 5*time.Minute)
	_ = b.Execute(func() error { return errors.New("down") })

	*now = now.Add(61 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	// While the probe is in flight every other call fails fast.
	<-started
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent Execute() error = %v, want ErrCircuitOpen", err)
	}

	close(release)
	<-probeDone
	if got := b.Snapshot().State; got != StateClosed {
		t.Fatalf("state after successful probe = %s, want CLOSED", got)
	}
}

func TestBreakerPrunesOldFailures(t *testing.T) {
	b, now := newTestBreaker(3, time.Minute, time.Minute)
	boom := errors.New("down")

	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })

	// The first two failures age out of the monitoring window, so two more
	// failures do not reach the threshold of three.
	*now = now.Add(2 * time.Minute)
	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })

	if got := b.Snapshot().State; got != StateClosed {
		t.Fatalf("state = %s, want CLOSED after pruning", got)
	}
	if got := b.Snapshot().FailureCount; got != 2 {
		t.Fatalf("failure count = %d, want 2", got)
	}
}

func TestBreakerManualReset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour, time.Hour)
	_ = b.Execute(func() error { return errors.New("down") })
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}

	b.Reset()
	if got := b.Snapshot().State; got != StateClosed {
		t.Fatalf("state after Reset = %s, want CLOSED", got)
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute() after reset error = %v", err)
	}
}
