// Package circuitbreaker implements the fail-fast gate in front of the
// STS processor (spec.md §4.6, component C6). It is adapted from the
// teacher's generic request circuit breaker (internal/relay/circuit_
// breaker.go) to the spec's error-kind-aware failure accounting: only
// retryable STS error codes count toward the trip threshold, so a
// permanent error (bad config, oversized fragment) never opens the
// breaker on its own.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/kobaltstream/dubrelay/internal/domain"
)

// State is one of closed, open, half_open (spec.md §3, §4.6).
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
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the breaker's thresholds (spec.md §4.6 defaults).
type Config struct {
	// FailureThreshold is the number of consecutive retryable failures
	// that trips the breaker from closed to open. Default 5.
	FailureThreshold int
	// CooldownPeriod is how long the breaker stays open before allowing
	// a half-open probe. Default 30s.
	CooldownPeriod time.Duration
	// OnStateChange, if set, is invoked (async) when the stored state
	// changes between closed and open, including Reset. Half-open is
	// derived from the cooldown on read and is never reported: a
	// successful probe is reported as open->closed, a failed probe not
	// at all.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CooldownPeriod:   30 * time.Second,
	}
}

// Decision is the outcome of a send attempt evaluated against the
// breaker, preserving a reason code for metrics (spec.md §9 design note:
// "each gate returns a rich enum rather than a boolean").
type Decision int

const (
	// Send means the caller may proceed to the STS processor.
	Send Decision = iota
	// Fallback means the breaker is open; route original audio instead.
	Fallback
)

// Breaker is a per-stream circuit breaker over STS sends.
type Breaker struct {
	config Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalFailures  uint64
	totalFallbacks uint64
}

// New creates a breaker in the closed state.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.CooldownPeriod <= 0 {
		config.CooldownPeriod = DefaultConfig().CooldownPeriod
	}
	return &Breaker{
		config:          config,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// State returns the current state, resolving an elapsed cooldown into
// half-open without requiring a caller to poll separately.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && time.Since(b.lastFailureTime) >= b.config.CooldownPeriod {
		return HalfOpen
	}
	return b.state
}

// ShouldSend evaluates whether a fragment may be sent to STS right now.
func (b *Breaker) ShouldSend() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stateLocked() == Open {
		b.totalFallbacks++
		return Fallback
	}
	return Send
}

// RecordSuccess reports a successful STS round-trip.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case Closed:
		b.consecutiveFail = 0
	case HalfOpen:
		b.transitionLocked(Closed)
	case Open:
		// stateLocked() already promoted us to HalfOpen above when due;
		// reaching Open here means cooldown hasn't elapsed — ignore.
	}
}

// RecordFailure reports an STS failure of the given code. Non-retryable
// codes are recorded (for logging/metrics) but never trip the breaker.
func (b *Breaker) RecordFailure(code domain.STSErrorCode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++

	if !code.IsRetryable() {
		return
	}

	b.lastFailureTime = time.Now()

	switch b.stateLocked() {
	case Closed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.config.FailureThreshold {
			b.transitionLocked(Open)
		}
	case HalfOpen:
		// Any failure during the half-open probe reopens immediately.
		b.transitionLocked(Open)
	case Open:
		// Already open; lastFailureTime above restarts the cooldown clock.
	}
}

func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.lastStateChange = time.Now()
	b.consecutiveFail = 0

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(prev, next)
	}
}

// Reset forces the breaker back to closed, clearing counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
}

// Stats is a point-in-time snapshot for metrics/worker status reporting.
type Stats struct {
	State           State
	ConsecutiveFail int
	TotalFailures   uint64
	TotalFallbacks  uint64
	LastStateChange time.Time
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:           b.stateLocked(),
		ConsecutiveFail: b.consecutiveFail,
		TotalFailures:   b.totalFailures,
		TotalFallbacks:  b.totalFallbacks,
		LastStateChange: b.lastStateChange,
	}
}
