// Package sts implements the STS session client (spec.md §4.3, component
// C3): a Socket.IO client maintaining the stream lifecycle state machine,
// composing the circuit breaker, fragment tracker, and backpressure gate
// on every fragment send. Grounded on the teacher's connection-oriented
// relay client shape (internal/relay), transported over
// github.com/graarh/golang-socketio instead of the teacher's HTTP client.
package sts

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lifecycle is the STS session's state (spec.md §3 Session, §4.3).
type Lifecycle int

const (
	Initializing Lifecycle = iota
	Active
	Paused
	Ending
	Completed
)

func (l Lifecycle) String() string {
	switch l {
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Ending:
		return "ending"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Session is C3's local view of the remote STS session (spec.md §3).
type Session struct {
	SessionID          string
	Lifecycle          Lifecycle
	MaxInflight         int
	TimeoutMS           int64
	NextSequenceToEmit  uint64
}

// maxFragmentBytes is the spec.md §4.3 payload size cap ("10 MB decoded
// per fragment"); oversized payloads fail locally as non-retryable.
const maxFragmentBytes = 10 * 1024 * 1024

// ErrFragmentTooLarge is returned by EncodeFragment when the decoded
// audio payload exceeds maxFragmentBytes.
var ErrFragmentTooLarge = fmt.Errorf("sts: fragment exceeds %d byte cap", maxFragmentBytes)

// FragmentData is the wire payload of an outbound `fragment:data` event
// (spec.md §4.3).
type FragmentData struct {
	FragmentID     string `json:"fragment_id"`
	StreamID       string `json:"stream_id"`
	SequenceNumber uint64 `json:"sequence_number"`
	TimestampMS    int64  `json:"timestamp_ms"`
	Audio          struct {
		Format       string `json:"format"`
		SampleRateHz int    `json:"sample_rate_hz"`
		Channels     int    `json:"channels"`
		DurationMS   int64  `json:"duration_ms"`
		DataBase64   string `json:"data_base64"`
	} `json:"audio"`
}

// EncodeFragment builds the wire payload for an audio segment, enforcing
// the 10 MB payload cap.
func EncodeFragment(streamID string, fragmentID uuid.UUID, sequenceNumber uint64, timestampMS int64, audio []byte, sampleRateHz, channels int, duration time.Duration) (FragmentData, error) {
	if len(audio) > maxFragmentBytes {
		return FragmentData{}, ErrFragmentTooLarge
	}

	fd := FragmentData{
		FragmentID:     fragmentID.String(),
		StreamID:       streamID,
		SequenceNumber: sequenceNumber,
		TimestampMS:    timestampMS,
	}
	fd.Audio.Format = "aac"
	fd.Audio.SampleRateHz = sampleRateHz
	fd.Audio.Channels = channels
	fd.Audio.DurationMS = duration.Milliseconds()
	fd.Audio.DataBase64 = base64.StdEncoding.EncodeToString(audio)
	return fd, nil
}

// StreamInit is the `stream:init` outbound payload.
type StreamInit struct {
	StreamID    string `json:"stream_id"`
	WorkerID    string `json:"worker_id"`
	SourceLang  string `json:"source_lang"`
	TargetLang  string `json:"target_lang"`
	MaxInflight int    `json:"max_inflight"`
	TimeoutMS   int64  `json:"timeout_ms"`
}

// StreamReady is the inbound `stream:ready` payload.
type StreamReady struct {
	SessionID    string   `json:"session_id"`
	Capabilities []string `json:"capabilities"`
}

// StreamComplete is the inbound `stream:complete` payload.
type StreamComplete struct {
	TotalFragments int            `json:"total_fragments"`
	Statistics     map[string]any `json:"statistics"`
}

// FragmentAck is the inbound `fragment:ack` payload.
type FragmentAck struct {
	FragmentID string `json:"fragment_id"`
	Status     string `json:"status"` // queued | processing
}

// FragmentProcessed is the inbound `fragment:processed` payload.
type FragmentProcessed struct {
	FragmentID       string         `json:"fragment_id"`
	SequenceNumber   uint64         `json:"sequence_number"`
	Status           string         `json:"status"` // success | partial | failed
	DubbedAudio      string         `json:"dubbed_audio,omitempty"`
	Error            *WireError     `json:"error,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	StageTimings     map[string]any `json:"stage_timings,omitempty"`
}

// WireError is the inbound `error` event payload, and the nested error
// on a failed `fragment:processed`.
type WireError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Retryable bool   `json:"retryable"`
}

// BackpressureEvent is the inbound `backpressure` payload.
type BackpressureEvent struct {
	Severity          string `json:"severity"`
	Action            string `json:"action"` // slow_down | pause | none
	CurrentInflight   int    `json:"current_inflight"`
	RecommendedDelayMS int64 `json:"recommended_delay_ms,omitempty"`
}
