// Package domain holds the shared data model for the dubbing worker: the
// segment/fragment unit of work, circuit breaker and A/V-sync state, and
// the worker configuration and lifecycle types a single stream worker
// owns exclusively for its lifetime.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MediaKind distinguishes video and audio segments.
type MediaKind int

const (
	// Video identifies an H.264 video segment.
	Video MediaKind = iota
	// Audio identifies an AAC audio segment.
	Audio
)

func (k MediaKind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// Segment is the unit of work produced by the segment builder (C2) and
// consumed by the STS client (C3, audio only) and the A/V sync manager
// (C8). batch_number is monotonic per stream, per media kind.
type Segment struct {
	FragmentID uuid.UUID
	StreamID   string
	Kind       MediaKind
	Batch      uint64

	T0             time.Duration // presentation timestamp of the first buffer
	Duration       time.Duration
	Payload        []byte
	DubbedPayload  []byte // audio only; nil until STS returns a result
	Keyframe       bool   // video only; true if the segment starts on an I-frame
	FellBackToOrig bool   // audio only; true once the breaker/timeout routed original audio through unchanged
}

// IsEmpty reports whether the segment carries no payload.
func (s Segment) IsEmpty() bool {
	return len(s.Payload) == 0
}

// Size returns the number of payload bytes, preferring dubbed audio once present.
func (s Segment) Size() int {
	if len(s.DubbedPayload) > 0 {
		return len(s.DubbedPayload)
	}
	return len(s.Payload)
}

// OutputPayload returns the dubbed payload if present, else the original.
// For video segments DubbedPayload is always nil, so this is a no-op passthrough.
func (s Segment) OutputPayload() []byte {
	if len(s.DubbedPayload) > 0 {
		return s.DubbedPayload
	}
	return s.Payload
}

// WorkerState is the lifecycle state of a single stream worker (C9).
// Transitions only move forward; Stop is idempotent from any state.
type WorkerState int

const (
	Idle WorkerState = iota
	Connecting
	Running
	Stopping
	Stopped
)

func (s WorkerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition (Stop is idempotent and is handled by the caller, not here).
func (s WorkerState) CanTransitionTo(next WorkerState) bool {
	return next > s || (s == Stopped && next == Stopped)
}

// WorkerConfig is the immutable configuration a worker is constructed
// with. It is never mutated after NewWorker.
type WorkerConfig struct {
	StreamID      string
	RTMPInputURL  string
	RTMPOutputURL string
	STSURL        string
	SourceLang    string
	TargetLang    string
	Credentials   string

	SegmentDuration  time.Duration // video TARGET, default 30s
	VAD              VADConfig
	MaxInflight      int
	FragmentTimeout  time.Duration
	AVOffset         time.Duration
	DriftThreshold   time.Duration
	SlewRate         time.Duration
	MemoryLimitBytes int64
}

// VADConfig holds the voice-activity-detection thresholds for the audio
// segment accumulator (C2).
type VADConfig struct {
	WindowSize        time.Duration
	SilenceThresholdDB float64
	SilenceDuration   time.Duration
	MinSegment        time.Duration
	MaxSegment        time.Duration
}

// DefaultWorkerConfig returns the spec-mandated defaults (spec.md §6/§4).
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		SourceLang:      "en",
		TargetLang:      "zh",
		SegmentDuration: 30 * time.Second,
		VAD: VADConfig{
			WindowSize:         100 * time.Millisecond,
			SilenceThresholdDB: -50,
			SilenceDuration:    1 * time.Second,
			MinSegment:         1 * time.Second,
			MaxSegment:         15 * time.Second,
		},
		MaxInflight:      3,
		FragmentTimeout:  60 * time.Second,
		AVOffset:         6 * time.Second,
		DriftThreshold:   120 * time.Millisecond,
		SlewRate:         10 * time.Millisecond,
		MemoryLimitBytes: 10 * 1024 * 1024,
	}
}
