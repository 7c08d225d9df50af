// Package circuitbreaker implements a Closed/Open/HalfOpen circuit breaker
// over a rolling window of call outcomes, tripping when a failure threshold
// is crossed and probing recovery through a bounded number of half-open
// trial calls.
//
// Grounded on unraid-management-agent's watchdog package — one prober per
// monitored resource, tracking consecutive outcomes and gating recovery —
// generalized here into the classic three-state breaker the spec's C4
// component calls for.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mcpcore/internal/errs"
)

// State is one of the breaker's three states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a Breaker's behavior.
type Config struct {
	// FailureThreshold is how many failures within WindowSize calls trips
	// the breaker from Closed to Open.
	FailureThreshold int
	// WindowSize bounds the rolling window of recorded outcomes.
	WindowSize int
	// OpenTimeout is how long the breaker stays Open before allowing a
	// HalfOpen probe.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls bounds how many concurrent trial calls are allowed
	// through while HalfOpen.
	HalfOpenMaxCalls int
	// MinThroughputThreshold is the minimum number of outcomes the rolling
	// window must hold before a failure count can trip the breaker, so a
	// handful of calls right after startup can't open it on their own.
	MinThroughputThreshold int
}

// DefaultConfig mirrors sane defaults seen across the pack's watchdog-style
// probers: five failures inside a ten-call window trips for thirty seconds,
// with a single half-open trial at a time, requiring at least five calls
// before the window counts toward a trip.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, WindowSize: 10, OpenTimeout: 30 * time.Second, HalfOpenMaxCalls: 1, MinThroughputThreshold: 5}
}

// Stats is a point-in-time snapshot of a Breaker's call statistics.
type Stats struct {
	TotalCalls     int64
	SucceededCalls int64
	FailedCalls    int64
	SuccessRate    float64
}

// Breaker is a single circuit breaker instance, one per logical upstream
// target (see DESIGN.md Open Question 2).
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	window   []bool // true = success
	openedAt time.Time

	halfOpenInflight int32

	totalCalls     int64
	succeededCalls int64
	failedCalls    int64
}

// New builds a Breaker starting Closed.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.MinThroughputThreshold <= 0 {
		cfg.MinThroughputThreshold = 1
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// Stats returns the breaker's cumulative call statistics.
func (b *Breaker) Stats() Stats {
	total := atomic.LoadInt64(&b.totalCalls)
	succeeded := atomic.LoadInt64(&b.succeededCalls)
	failed := atomic.LoadInt64(&b.failedCalls)
	rate := 1.0
	if total > 0 {
		rate = float64(succeeded) / float64(total)
	}
	return Stats{TotalCalls: total, SucceededCalls: succeeded, FailedCalls: failed, SuccessRate: rate}
}

// State returns the breaker's current state, transitioning Open->HalfOpen
// first if OpenTimeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.OpenTimeout {
		b.state = HalfOpen
		atomic.StoreInt32(&b.halfOpenInflight, 0)
	}
}

// Allow reports whether a call may proceed right now, reserving a
// half-open trial slot if the breaker is HalfOpen.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	b.maybeTransitionToHalfOpenLocked()
	state := b.state
	b.mu.Unlock()

	switch state {
	case Closed:
		return true
	case Open:
		return false
	case HalfOpen:
		return atomic.AddInt32(&b.halfOpenInflight, 1) <= int32(b.cfg.HalfOpenMaxCalls)
	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	atomic.AddInt64(&b.totalCalls, 1)
	atomic.AddInt64(&b.succeededCalls, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		atomic.AddInt32(&b.halfOpenInflight, -1)
		b.reset()
		return
	}
	b.record(true)
	if len(b.window) >= b.cfg.MinThroughputThreshold && b.failureCountLocked() >= b.cfg.FailureThreshold {
		b.trip()
	}
}

// RecordFailure reports a failed call outcome, possibly tripping the
// breaker Closed->Open, or re-opening from HalfOpen on a failed trial.
func (b *Breaker) RecordFailure() {
	atomic.AddInt64(&b.totalCalls, 1)
	atomic.AddInt64(&b.failedCalls, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		atomic.AddInt32(&b.halfOpenInflight, -1)
		b.trip()
		return
	}
	b.record(false)
	if len(b.window) >= b.cfg.MinThroughputThreshold && b.failureCountLocked() >= b.cfg.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) record(success bool) {
	b.window = append(b.window, success)
	if len(b.window) > b.cfg.WindowSize {
		b.window = b.window[len(b.window)-b.cfg.WindowSize:]
	}
}

func (b *Breaker) failureCountLocked() int {
	n := 0
	for _, ok := range b.window {
		if !ok {
			n++
		}
	}
	return n
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.window = nil
}

func (b *Breaker) reset() {
	b.state = Closed
	b.window = nil
}

// ErrOpen is returned by Call when the breaker is rejecting calls.
var ErrOpen = errs.New(errs.CircuitOpenError, "circuit breaker is open")

// Call runs fn if the breaker permits it, recording the outcome.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return fmt.Errorf("circuitbreaker: call failed: %w", err)
	}
	b.RecordSuccess()
	return nil
}
