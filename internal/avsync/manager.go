// Package avsync implements the A/V sync manager (spec.md §4.8,
// component C8): it holds bounded per-kind queues of pending segments,
// pairs video and audio by batch_number, and applies slew correction to
// keep the two streams within drift_threshold_ns of each other. The
// bounded, oldest-evicted queues are adapted from the teacher's segment
// buffer eviction logic (internal/relay/segment_buffer.go), re-keyed by
// batch_number instead of a monotonic HTTP-delivery sequence.
package avsync

import (
	"sync"
	"time"

	"github.com/kobaltstream/dubrelay/internal/domain"
)

// defaultCapacity bounds how many un-paired segments of one kind are
// held before the oldest is evicted (spec.md §4.8 generalization).
const defaultCapacity = 10

// SyncPair is an aligned (video, audio) segment pair ready for output,
// carrying the presentation timestamp to publish it at (spec.md §3).
type SyncPair struct {
	Video domain.Segment
	Audio domain.Segment
	PTS   time.Duration
}

// Config holds the sync manager's tunables (spec.md §3 AvSyncState, §6 defaults).
type Config struct {
	AVOffset       time.Duration // default 6s
	DriftThreshold time.Duration // default 120ms
	SlewRate       time.Duration // default 10ms per correction
	Capacity       int           // per-kind pending queue bound, default 10
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		AVOffset:       6 * time.Second,
		DriftThreshold: 120 * time.Millisecond,
		SlewRate:       10 * time.Millisecond,
		Capacity:       defaultCapacity,
	}
}

// pendingQueue is a bounded, oldest-evicted map of un-paired segments
// for one media kind, keyed by batch_number.
type pendingQueue struct {
	segments map[uint64]domain.Segment
	order    []uint64
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{segments: make(map[uint64]domain.Segment)}
}

func (q *pendingQueue) take(batch uint64) (domain.Segment, bool) {
	seg, ok := q.segments[batch]
	if ok {
		delete(q.segments, batch)
		for i, b := range q.order {
			if b == batch {
				q.order = append(q.order[:i], q.order[i+1:]...)
				break
			}
		}
	}
	return seg, ok
}

func (q *pendingQueue) put(seg domain.Segment, capacity int) (evicted domain.Segment, didEvict bool) {
	q.segments[seg.Batch] = seg
	q.order = append(q.order, seg.Batch)

	if len(q.order) > capacity {
		oldest := q.order[0]
		q.order = q.order[1:]
		evicted, didEvict = q.segments[oldest], true
		delete(q.segments, oldest)
	}
	return evicted, didEvict
}

// Manager pairs video and audio segments by batch_number and tracks
// inter-stream drift, applying slew correction rather than hard jumps.
type Manager struct {
	config Config

	mu    sync.Mutex
	video *pendingQueue
	audio *pendingQueue

	videoPTSLast time.Duration
	audioPTSLast time.Duration
	slewOffset   time.Duration // accumulated correction applied to the next pair's PTS

	onEvict func(domain.Segment) // optional: report a segment dropped for lack of a partner
}

// New creates a sync manager with the given config.
func New(config Config) *Manager {
	if config.Capacity <= 0 {
		config.Capacity = defaultCapacity
	}
	return &Manager{
		config: config,
		video:  newPendingQueue(),
		audio:  newPendingQueue(),
	}
}

// OnEvict registers a callback invoked whenever a pending segment is
// dropped because its partner never arrived within Capacity slots.
func (m *Manager) OnEvict(fn func(domain.Segment)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// PushVideo enqueues a video segment and returns a completed SyncPair if
// its batch_number now has a matching audio segment.
func (m *Manager) PushVideo(seg domain.Segment) (SyncPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if audio, ok := m.audio.take(seg.Batch); ok {
		return m.emit(seg, audio), true
	}

	evicted, didEvict := m.video.put(seg, m.config.Capacity)
	if didEvict && m.onEvict != nil {
		go m.onEvict(evicted)
	}
	return SyncPair{}, false
}

// PushAudio enqueues an audio segment and returns a completed SyncPair if
// its batch_number now has a matching video segment.
func (m *Manager) PushAudio(seg domain.Segment) (SyncPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if video, ok := m.video.take(seg.Batch); ok {
		return m.emit(video, seg), true
	}

	evicted, didEvict := m.audio.put(seg, m.config.Capacity)
	if didEvict && m.onEvict != nil {
		go m.onEvict(evicted)
	}
	return SyncPair{}, false
}

// emit builds the SyncPair's PTS (spec.md §3: pts_ns = original_t0_ns +
// av_offset_ns, with min() used when the two sides' t0 differ) and
// applies slew correction based on the drift observed since the last pair.
func (m *Manager) emit(video, audio domain.Segment) SyncPair {
	t0 := video.T0
	if audio.T0 < t0 {
		t0 = audio.T0
	}
	pts := t0 + m.config.AVOffset + m.slewOffset

	m.videoPTSLast = video.T0
	m.audioPTSLast = audio.T0
	delta := m.videoPTSLast - m.audioPTSLast
	if delta < 0 {
		delta = -delta
	}

	if delta > m.config.DriftThreshold {
		if m.videoPTSLast > m.audioPTSLast {
			// Audio is behind; pull its effective PTS forward.
			m.slewOffset -= m.config.SlewRate
		} else {
			m.slewOffset += m.config.SlewRate
		}
	}

	return SyncPair{Video: video, Audio: audio, PTS: pts}
}

// PendingCounts reports how many un-paired segments are currently held
// per kind, for metrics/diagnostics.
func (m *Manager) PendingCounts() (video, audio int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.video.segments), len(m.audio.segments)
}

// Drift returns the most recently observed |video_pts_last - audio_pts_last|.
func (m *Manager) Drift() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.videoPTSLast - m.audioPTSLast
	if d < 0 {
		d = -d
	}
	return d
}
