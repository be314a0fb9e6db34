// Package fragment implements the in-flight fragment tracker (spec.md
// §4.4, component C4): a bounded map of fragments awaiting an STS result,
// each with its own timeout. It is adapted from the teacher's segment
// buffer (internal/relay/segment_buffer.go) — same bounded-map-with-
// per-entry-lifecycle shape — but tracks pending round-trips instead of
// delivered bytes, and times out entries individually rather than
// evicting oldest-first.
package fragment

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is a single fragment awaiting an STS response.
type Entry struct {
	FragmentID uuid.UUID
	Batch      uint64
	SentAt     time.Time
}

// TimeoutFunc is invoked when a tracked fragment's timeout elapses before
// Complete is called for it.
type TimeoutFunc func(Entry)

// Tracker is a per-stream bounded set of in-flight fragments (spec.md
// invariant P5: "inflight count never exceeds max_inflight").
type Tracker struct {
	maxInflight int
	timeout     time.Duration
	onTimeout   TimeoutFunc

	mu      sync.Mutex
	entries map[uuid.UUID]*trackedEntry
}

type trackedEntry struct {
	Entry
	timer *time.Timer
}

// New creates a tracker with the given capacity and per-entry timeout.
func New(maxInflight int, timeout time.Duration, onTimeout TimeoutFunc) *Tracker {
	if maxInflight <= 0 {
		maxInflight = 1
	}
	return &Tracker{
		maxInflight: maxInflight,
		timeout:     timeout,
		onTimeout:   onTimeout,
		entries:     make(map[uuid.UUID]*trackedEntry),
	}
}

// HasCapacity reports whether another fragment may be sent without
// exceeding max_inflight.
func (t *Tracker) HasCapacity() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) < t.maxInflight
}

// Track records a newly-sent fragment and arms its timeout. It returns
// false if the tracker is already at capacity (the caller must not send).
func (t *Tracker) Track(fragmentID uuid.UUID, batch uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.maxInflight {
		return false
	}

	e := &trackedEntry{Entry: Entry{FragmentID: fragmentID, Batch: batch, SentAt: time.Now()}}
	if t.timeout > 0 {
		e.timer = time.AfterFunc(t.timeout, func() { t.expire(fragmentID) })
	}
	t.entries[fragmentID] = e
	return true
}

func (t *Tracker) expire(fragmentID uuid.UUID) {
	t.mu.Lock()
	e, ok := t.entries[fragmentID]
	if ok {
		delete(t.entries, fragmentID)
	}
	t.mu.Unlock()

	if ok && t.onTimeout != nil {
		t.onTimeout(e.Entry)
	}
}

// Complete removes a fragment from tracking (STS responded, in time or
// not) and cancels its pending timeout. It reports whether the fragment
// was still tracked.
func (t *Tracker) Complete(fragmentID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[fragmentID]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(t.entries, fragmentID)
	return true
}

// InflightCount returns the number of fragments currently tracked.
func (t *Tracker) InflightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear removes all tracked fragments, cancelling their timers without
// invoking onTimeout. Used on worker stop.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.entries, id)
	}
}
