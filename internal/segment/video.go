// Package segment implements the segment builder (spec.md §4.2,
// component C2): a duration-bounded, keyframe-aligned video accumulator
// and an RMS-VAD-driven audio accumulator, each emitting domain.Segment
// values with a monotonic per-kind batch_number.
package segment

import (
	"time"

	"github.com/google/uuid"
	"github.com/kobaltstream/dubrelay/internal/domain"
)

// Buffer is one demuxed media unit handed up from the input pipeline
// (spec.md §4.1: "(bytes, pts_ns, duration_ns)").
type Buffer struct {
	Payload   []byte
	PTS       time.Duration
	Duration  time.Duration
	Keyframe  bool // video only
}

// VideoAccumulator builds duration-bounded, keyframe-aligned video
// segments (spec.md §4.2 "Video segmentation").
type VideoAccumulator struct {
	streamID string
	target   time.Duration // default 30s

	batch    uint64
	payload  []byte
	t0       time.Duration
	accDur   time.Duration
	started  bool
	seedKeyframe bool // whether the buffer that opened this accumulation was a keyframe
	pastTarget bool // accumulated duration has reached target; waiting for next keyframe
}

// NewVideoAccumulator creates an accumulator targeting the given segment duration.
func NewVideoAccumulator(streamID string, target time.Duration) *VideoAccumulator {
	if target <= 0 {
		target = 30 * time.Second
	}
	return &VideoAccumulator{streamID: streamID, target: target}
}

// Push appends a video buffer, returning a completed segment when a
// keyframe arrives after the target duration has been reached.
func (a *VideoAccumulator) Push(buf Buffer) (domain.Segment, bool) {
	// A keyframe arriving once we're past target closes the current
	// accumulation and seeds the next one with this keyframe (spec.md
	// §4.2: "the keyframe seeds the next segment").
	if a.pastTarget && buf.Keyframe {
		seg := a.finish()
		a.reset()
		a.append(buf)
		return seg, true
	}

	a.append(buf)
	if a.accDur >= a.target {
		a.pastTarget = true
	}
	return domain.Segment{}, false
}

// Flush emits a partial segment on end-of-stream if it meets the 1s
// minimum (spec.md §4.2 "On end-of-stream, flush a partial segment only
// if its duration ≥ 1 s; otherwise discard").
func (a *VideoAccumulator) Flush() (domain.Segment, bool) {
	if !a.started || a.accDur < time.Second {
		return domain.Segment{}, false
	}
	seg := a.finish()
	a.reset()
	return seg, true
}

func (a *VideoAccumulator) append(buf Buffer) {
	if !a.started {
		a.t0 = buf.PTS
		a.seedKeyframe = buf.Keyframe
		a.started = true
	}
	a.payload = append(a.payload, buf.Payload...)
	a.accDur += buf.Duration
}

func (a *VideoAccumulator) finish() domain.Segment {
	return domain.Segment{
		FragmentID: uuid.New(),
		StreamID:   a.streamID,
		Kind:       domain.Video,
		Batch:      a.nextBatch(),
		T0:         a.t0,
		Duration:   a.accDur,
		Payload:    a.payload,
		Keyframe:   a.seedKeyframe,
	}
}

func (a *VideoAccumulator) nextBatch() uint64 {
	b := a.batch
	a.batch++
	return b
}

func (a *VideoAccumulator) reset() {
	a.payload = nil
	a.accDur = 0
	a.started = false
	a.seedKeyframe = false
	a.pastTarget = false
}
