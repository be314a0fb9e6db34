package segment

import (
	"time"

	"github.com/google/uuid"
	"github.com/kobaltstream/dubrelay/internal/domain"
)

// vadState is the audio accumulator's silence-detection state (spec.md
// §4.2: "State: ACCUMULATING ↔ IN_SILENCE").
type vadState int

const (
	accumulating vadState = iota
	inSilence
)

// AudioAccumulator builds VAD-driven audio segments: silence-bounded,
// with min/max duration and a memory cap (spec.md §4.2 "Audio
// segmentation (Voice Activity Detection)").
type AudioAccumulator struct {
	streamID    string
	config      domain.VADConfig
	memoryLimit int64 // bytes; spec.md §4.2 default 10 MB per stream

	batch   uint64
	state   vadState
	payload []byte
	t0      time.Duration
	accDur  time.Duration
	started bool

	silenceElapsed time.Duration
}

// NewAudioAccumulator creates an accumulator using the given VAD config
// and memory cap.
func NewAudioAccumulator(streamID string, config domain.VADConfig, memoryLimitBytes int64) *AudioAccumulator {
	return &AudioAccumulator{
		streamID:    streamID,
		config:      config,
		memoryLimit: memoryLimitBytes,
		state:       accumulating,
	}
}

// Push appends one fixed-window audio buffer along with its measured RMS
// level in dB, returning a completed segment when a VAD boundary or
// duration/memory cap is reached.
func (a *AudioAccumulator) Push(buf Buffer, rmsDB float64) (domain.Segment, bool) {
	silent := rmsDB < a.config.SilenceThresholdDB

	switch a.state {
	case inSilence:
		if !silent {
			// Sample above threshold: resume accumulation, new segment
			// starts at this sample's PTS (spec.md §4.2).
			a.state = accumulating
			a.silenceElapsed = 0
			a.append(buf)
		}
		// Remaining silent: stay in IN_SILENCE, drop the buffer.
		return domain.Segment{}, false

	default: // accumulating
		a.append(buf)

		if a.memoryLimit > 0 && int64(len(a.payload)) >= a.memoryLimit {
			return a.emit(), true
		}
		if a.accDur >= a.config.MaxSegment {
			return a.emit(), true
		}

		if silent {
			a.silenceElapsed += buf.Duration
			if a.silenceElapsed >= a.config.SilenceDuration && a.accDur >= a.config.MinSegment {
				seg := a.emit()
				a.state = inSilence
				a.silenceElapsed = 0
				return seg, true
			}
		} else {
			a.silenceElapsed = 0
		}
		return domain.Segment{}, false
	}
}

// Flush emits a remaining partial segment on end-of-stream if it meets
// the minimum duration (spec.md §4.2 "On end-of-stream, emit remainder
// if ≥ min_segment, else discard").
func (a *AudioAccumulator) Flush() (domain.Segment, bool) {
	if a.state == inSilence || !a.started || a.accDur < a.config.MinSegment {
		return domain.Segment{}, false
	}
	return a.emit(), true
}

func (a *AudioAccumulator) append(buf Buffer) {
	if !a.started {
		a.t0 = buf.PTS
		a.started = true
	}
	a.payload = append(a.payload, buf.Payload...)
	a.accDur += buf.Duration
}

func (a *AudioAccumulator) emit() domain.Segment {
	seg := domain.Segment{
		FragmentID: uuid.New(),
		StreamID:   a.streamID,
		Kind:       domain.Audio,
		Batch:      a.nextBatch(),
		T0:         a.t0,
		Duration:   a.accDur,
		Payload:    a.payload,
	}
	a.reset()
	return seg
}

func (a *AudioAccumulator) nextBatch() uint64 {
	b := a.batch
	a.batch++
	return b
}

func (a *AudioAccumulator) reset() {
	a.payload = nil
	a.accDur = 0
	a.started = false
}
