// Package worker implements the worker runtime (spec.md §4.9, component
// C9): a single stream's state machine gluing C1-C8 together, from
// construction through the start sequence, running, and an idempotent
// stop sequence. Grounded on the teacher's daemon lifecycle shape
// (internal/relay/daemon_registry.go's per-entry state tracking),
// generalized to own an entire processing pipeline rather than a
// heartbeat record.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kobaltstream/dubrelay/internal/avsync"
	"github.com/kobaltstream/dubrelay/internal/backpressure"
	"github.com/kobaltstream/dubrelay/internal/circuitbreaker"
	"github.com/kobaltstream/dubrelay/internal/domain"
	"github.com/kobaltstream/dubrelay/internal/fragment"
	"github.com/kobaltstream/dubrelay/internal/media"
	"github.com/kobaltstream/dubrelay/internal/segment"
	"github.com/kobaltstream/dubrelay/internal/sts"
)

// inputRetryBackoff is the spec.md §4.9 input-reconnect schedule.
var inputRetryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// stopDrainTimeout bounds how long stop waits for stream:complete/drain
// (spec.md §4.9: "wait (bounded, e.g. 30 s)").
const stopDrainTimeout = 30 * time.Second

// Metrics is a point-in-time snapshot of a worker's counters (SPEC_FULL
// §7 supplemented feature, grounded on original_source/'s worker metrics).
type Metrics struct {
	StreamID          string
	State             domain.WorkerState
	VideoSegments     uint64
	AudioSegments     uint64
	FragmentsSent     uint64
	FragmentsAcked    uint64
	FragmentsTimedOut uint64
	FragmentsFallback uint64
	FragmentsDropped  uint64
	BreakerState      circuitbreaker.State
	AVDrift           time.Duration
	InputBps          uint64
	OutputBps         uint64
}

// Worker owns one stream's entire pipeline: input/output media, segment
// accumulators, STS session, and the A/V sync manager.
type Worker struct {
	config domain.WorkerConfig

	mu    sync.Mutex
	state domain.WorkerState

	cancel context.CancelFunc

	input  *media.Input
	output *media.Output

	videoAcc *segment.VideoAccumulator
	audioAcc *segment.AudioAccumulator

	breaker *circuitbreaker.Breaker
	tracker *fragment.Tracker
	gate    *backpressure.Gate
	sync    *avsync.Manager
	sts     *sts.Client

	pendingAudio *pendingAudioMap

	lastRMSDB float64

	metrics Metrics
}

// New constructs an idle worker. It does not start any I/O.
func New(config domain.WorkerConfig) *Worker {
	w := &Worker{
		config: config,
		state:  domain.Idle,
	}
	w.metrics = Metrics{StreamID: config.StreamID, State: domain.Idle}
	return w
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() domain.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start runs the spec.md §4.9 start sequence: build pipelines, connect
// STS, wire callbacks, transition to running. It blocks until running or
// a fatal startup error, per "Worker startup: None; rollback partial
// state; propagate to caller" (spec.md §7).
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != domain.Idle {
		w.mu.Unlock()
		return fmt.Errorf("worker %s: start called in state %s", w.config.StreamID, w.state)
	}
	w.state = domain.Connecting
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.breaker = circuitbreaker.New(circuitbreaker.Config{})
	w.tracker = fragment.New(w.config.MaxInflight, w.config.FragmentTimeout, nil)
	w.gate = backpressure.New()
	w.sync = avsync.New(avsync.Config{
		AVOffset:       w.config.AVOffset,
		DriftThreshold: w.config.DriftThreshold,
		SlewRate:       w.config.SlewRate,
	})
	w.videoAcc = segment.NewVideoAccumulator(w.config.StreamID, w.config.SegmentDuration)
	w.audioAcc = segment.NewAudioAccumulator(w.config.StreamID, w.config.VAD, w.config.MemoryLimitBytes)
	// Until the first audio buffer yields a real measurement, lean silent
	// rather than speech: an unparseable frame should not stall the VAD
	// boundary the way an assumed-speech default would.
	w.lastRMSDB = w.config.VAD.SilenceThresholdDB - 1
	w.output = media.NewOutput(w.config.RTMPOutputURL)
	w.pendingAudio = newPendingAudioMap()

	// The tracker's timeout callback must report into the sts client, but
	// the client itself needs the tracker at construction — close the
	// cycle with a forwarding closure assigned once stsClient is built.
	var stsClient *sts.Client
	w.tracker = fragment.New(w.config.MaxInflight, w.config.FragmentTimeout, func(e fragment.Entry) {
		stsClient.OnTrackerTimeout(e)
	})

	w.sts = sts.New(sts.Config{
		URL:        w.config.STSURL,
		StreamID:   w.config.StreamID,
		WorkerID:   w.config.StreamID,
		SourceLang: w.config.SourceLang,
		TargetLang: w.config.TargetLang,
		Breaker:    w.breaker,
		Tracker:    w.tracker,
		Gate:       w.gate,
		OnDubbed:   w.onDubbed,
		OnFallback: w.onFallback,
		OnDropped:  w.onDropped,
	})
	stsClient = w.sts

	if err := w.sts.Connect(runCtx, w.config.MaxInflight, w.config.FragmentTimeout.Milliseconds()); err != nil {
		w.rollback()
		return fmt.Errorf("worker %s: sts connect: %w", w.config.StreamID, err)
	}

	w.input = media.NewInput(w.config.RTMPInputURL, w.onVideoBuffer, w.onAudioBuffer)

	if err := w.output.Connect(runCtx); err != nil {
		w.sts.Close()
		w.rollback()
		return fmt.Errorf("worker %s: output connect: %w", w.config.StreamID, err)
	}

	go w.runInput(runCtx)
	go w.runBandwidthSampler(runCtx)

	w.mu.Lock()
	w.state = domain.Running
	w.metrics.State = domain.Running
	w.mu.Unlock()
	return nil
}

func (w *Worker) rollback() {
	w.mu.Lock()
	w.state = domain.Idle
	w.mu.Unlock()
}

// runInput drives C1(in), retrying per spec.md §4.9 ("Input disconnect:
// retry input connect 3x (1s, 2s, 4s); if all fail, stop worker").
func (w *Worker) runInput(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		err := w.input.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		if attempt >= len(inputRetryBackoff) {
			go w.Stop(context.Background())
			return
		}

		timer := time.NewTimer(inputRetryBackoff[attempt])
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// runBandwidthSampler periodically samples the input/output media
// bandwidth trackers so Metrics reports a rolling bytes-per-second figure
// rather than a raw cumulative count.
func (w *Worker) runBandwidthSampler(ctx context.Context) {
	ticker := time.NewTicker(media.DefaultBandwidthSamplePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.input.Bandwidth().Sample()
			w.output.Bandwidth().Sample()
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) onVideoBuffer(buf media.Buffer) {
	seg, ok := w.videoAcc.Push(segment.Buffer{Payload: buf.Payload, PTS: buf.PTS, Duration: buf.Duration, Keyframe: buf.Keyframe})
	if !ok {
		return
	}
	w.incMetric(func(m *Metrics) { m.VideoSegments++ })
	w.emitVideo(seg)
}

func (w *Worker) onAudioBuffer(buf media.Buffer) {
	rmsDB := w.estimateRMSDB(buf.Payload)
	seg, ok := w.audioAcc.Push(segment.Buffer{Payload: buf.Payload, PTS: buf.PTS, Duration: buf.Duration}, rmsDB)
	if !ok {
		return
	}
	w.incMetric(func(m *Metrics) { m.AudioSegments++ })
	w.sendToSTS(seg)
}

// estimateRMSDB derives this buffer's loudness (segment.EstimateRMSDB) and
// falls back to the last successful measurement when the frame's bitstream
// layout can't be parsed (see segment.EstimateRMSDB's doc comment).
func (w *Worker) estimateRMSDB(payload []byte) float64 {
	dB, ok := segment.EstimateRMSDB(payload)
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.lastRMSDB = dB
	}
	return w.lastRMSDB
}

func (w *Worker) sendToSTS(seg domain.Segment) {
	w.incMetric(func(m *Metrics) { m.FragmentsSent++ })
	audioConfig := w.input.AudioConfig()
	w.sts.Send(context.Background(), seg.FragmentID.String(), seg.Batch, seg.Payload, seg.T0, audioConfig.SampleRate, audioConfig.Channels, seg.Duration)
	w.pendingAudio.store(seg)
}

func (w *Worker) onDubbed(fragmentID string, dubbedAudio []byte) {
	w.incMetric(func(m *Metrics) { m.FragmentsAcked++ })
	seg, ok := w.pendingAudio.take(fragmentID)
	if !ok {
		return
	}
	seg.DubbedPayload = dubbedAudio
	w.emitAudio(seg)
}

func (w *Worker) onFallback(fragmentID string, reason error) {
	w.incMetric(func(m *Metrics) { m.FragmentsFallback++ })
	seg, ok := w.pendingAudio.take(fragmentID)
	if !ok {
		return
	}
	seg.FellBackToOrig = true
	w.emitAudio(seg)
}

// onDropped discards a fragment that failed permanently: no fallback
// audio is emitted, the segment is simply dropped (spec.md §4.6/§7).
func (w *Worker) onDropped(fragmentID string, code domain.STSErrorCode) {
	w.incMetric(func(m *Metrics) { m.FragmentsDropped++ })
	w.pendingAudio.take(fragmentID)
}

func (w *Worker) emitVideo(seg domain.Segment) {
	if pair, ok := w.sync.PushVideo(seg); ok {
		w.publishPair(pair)
	}
}

func (w *Worker) emitAudio(seg domain.Segment) {
	if pair, ok := w.sync.PushAudio(seg); ok {
		w.publishPair(pair)
	}
}

func (w *Worker) publishPair(pair avsync.SyncPair) {
	if w.output == nil {
		return
	}
	_ = w.output.PushVideo(pair.Video.Payload, pair.PTS, pair.Video.Keyframe)
	_ = w.output.PushAudio(pair.Audio.OutputPayload(), pair.PTS)
}

func (w *Worker) incMetric(fn func(*Metrics)) {
	w.mu.Lock()
	fn(&w.metrics)
	w.metrics.BreakerState = w.breaker.Stats().State
	w.metrics.AVDrift = w.sync.Drift()
	if w.input != nil {
		w.metrics.InputBps = w.input.Bandwidth().CurrentBps()
	}
	if w.output != nil {
		w.metrics.OutputBps = w.output.Bandwidth().CurrentBps()
	}
	w.mu.Unlock()
}

// Metrics returns a snapshot of the worker's counters (SPEC_FULL §7).
func (w *Worker) Metrics() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

// Stop runs the spec.md §4.9 stop sequence. It is idempotent: calling it
// more than once, or from any state, is safe.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state == domain.Stopped || w.state == domain.Stopping {
		w.mu.Unlock()
		return nil
	}
	w.state = domain.Stopping
	cancel := w.cancel
	w.mu.Unlock()

	if w.sts != nil {
		w.sts.Close()
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, stopDrainTimeout)
	defer drainCancel()
	w.waitForDrain(drainCtx)

	if cancel != nil {
		cancel()
	}
	if w.tracker != nil {
		w.tracker.Clear()
	}
	if w.output != nil {
		_ = w.output.Close()
	}

	w.mu.Lock()
	w.state = domain.Stopped
	w.metrics.State = domain.Stopped
	w.mu.Unlock()
	return nil
}

func (w *Worker) waitForDrain(ctx context.Context) {
	if w.tracker == nil {
		return
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if w.tracker.InflightCount() == 0 {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
