package reliability

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker fails fast without invoking
// the guarded operation.
var ErrCircuitOpen = errors.New("voice circuit breaker is open")

// BreakerState identifies the circuit breaker position.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes the failure window of a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MonitoringWindow time.Duration
}

// CircuitBreaker guards calls against a failing external dependency.
// Failures are counted over a sliding window; once the threshold is reached
// the breaker opens and fails fast until the reset timeout elapses, after
// which a single probe call decides whether to close again.
//
// One breaker instance is shared by every concurrent session, so all state
// transitions are serialized behind a mutex.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg             BreakerConfig
	state           BreakerState
	failures        []time.Time
	lastFailureTime time.Time
	probing         bool
	now             func() time.Time
}

// BreakerSnapshot is a read-only view of breaker state for the ops surface.
type BreakerSnapshot struct {
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	LastFailureTime time.Time    `json:"last_failure_time"`
	IsAvailable     bool         `json:"is_available"`
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = 5 * time.Minute
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Execute runs op behind the breaker. While open and within the reset
// timeout it returns ErrCircuitOpen without invoking op; in every other
// case op's own error propagates unchanged.
func (b *CircuitBreaker) Execute(op func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	if err := op(); err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

func (b *CircuitBreaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		// A single probe decides the outcome; everyone else fails fast.
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) > b.cfg.ResetTimeout {
			b.state = StateHalfOpen
			b.probing = true
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.resetLocked()
	}
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.probing = false
	b.failures = append(b.failures, now)
	b.pruneLocked(now)

	if b.state == StateHalfOpen || len(b.failures) >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.lastFailureTime = now
	}
}

// pruneLocked drops failures older than the monitoring window so the count
// only ever reflects recent history.
func (b *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// Reset closes the breaker and clears its failure history. Exposed for the
// admin surface and for a successful half-open probe.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *CircuitBreaker) resetLocked() {
	b.state = StateClosed
	b.failures = nil
	b.lastFailureTime = time.Time{}
	b.probing = false
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:           b.state,
		FailureCount:    len(b.failures),
		LastFailureTime: b.lastFailureTime,
		IsAvailable:     b.state != StateOpen,
	}
}
