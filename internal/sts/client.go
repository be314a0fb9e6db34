package sts

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	gosocketio "github.com/graarh/golang-socketio"
	"github.com/graarh/golang-socketio/transport"

	"github.com/google/uuid"
	"github.com/kobaltstream/dubrelay/internal/backpressure"
	"github.com/kobaltstream/dubrelay/internal/circuitbreaker"
	"github.com/kobaltstream/dubrelay/internal/domain"
	"github.com/kobaltstream/dubrelay/internal/fragment"
)

// OnDubbedFunc is invoked when a fragment completes successfully, with
// the decoded dubbed audio attached.
type OnDubbedFunc func(fragmentID string, dubbedAudio []byte)

// OnFallbackFunc is invoked when a fragment must fall back to original
// audio: breaker open, backpressure timeout, tracker at capacity, or a
// retryable failure from STS.
type OnFallbackFunc func(fragmentID string, reason error)

// OnDroppedFunc is invoked when a fragment fails permanently: no retry, no
// fallback, the segment is simply discarded (spec.md §4.6/§7).
type OnDroppedFunc func(fragmentID string, code domain.STSErrorCode)

// Client is a Socket.IO session to one STS endpoint, gating every send
// through the circuit breaker, fragment tracker, and backpressure gate
// (spec.md §4.3: "composes with (a)...(b)...(c)").
type Client struct {
	url         string
	streamID    string
	workerID    string
	sourceLang  string
	targetLang  string

	breaker  *circuitbreaker.Breaker
	tracker  *fragment.Tracker
	gate     *backpressure.Gate

	onDubbed   OnDubbedFunc
	onFallback OnFallbackFunc
	onDropped  OnDroppedFunc

	mu      sync.Mutex
	conn    *gosocketio.Client
	session Session
}

// Config bundles the gates C9 wires into the client (spec.md §4.3/§4.4/§4.5).
type Config struct {
	URL         string
	StreamID    string
	WorkerID    string
	SourceLang  string
	TargetLang  string
	Breaker     *circuitbreaker.Breaker
	Tracker     *fragment.Tracker
	Gate        *backpressure.Gate
	OnDubbed    OnDubbedFunc
	OnFallback  OnFallbackFunc
	OnDropped   OnDroppedFunc
}

// New creates a session client. Connect must be called before Send.
func New(cfg Config) *Client {
	return &Client{
		url:        cfg.URL,
		streamID:   cfg.StreamID,
		workerID:   cfg.WorkerID,
		sourceLang: cfg.SourceLang,
		targetLang: cfg.TargetLang,
		breaker:    cfg.Breaker,
		tracker:    cfg.Tracker,
		gate:       cfg.Gate,
		onDubbed:   cfg.OnDubbed,
		onFallback: cfg.OnFallback,
		onDropped:  cfg.OnDropped,
		session:    Session{Lifecycle: Initializing},
	}
}

// Connect dials the STS endpoint, wires inbound event handlers, and
// sends stream:init, blocking until stream:ready or ctx is done.
func (c *Client) Connect(ctx context.Context, maxInflight int, timeoutMS int64) error {
	conn, err := gosocketio.Dial(c.url, transport.GetDefaultWebsocketTransport())
	if err != nil {
		return fmt.Errorf("sts: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	readyCh := make(chan StreamReady, 1)

	conn.On("stream:ready", func(ch *gosocketio.Channel, ready StreamReady) {
		select {
		case readyCh <- ready:
		default:
		}
	})
	conn.On("stream:complete", func(ch *gosocketio.Channel, complete StreamComplete) {
		c.mu.Lock()
		c.session.Lifecycle = Completed
		c.mu.Unlock()
	})
	conn.On("stream:pause", func(ch *gosocketio.Channel, args any) {
		c.setLifecycle(Paused)
		c.gate.SetPause()
	})
	conn.On("stream:resume", func(ch *gosocketio.Channel, args any) {
		c.setLifecycle(Active)
		c.gate.Resume()
	})
	conn.On("fragment:ack", func(ch *gosocketio.Channel, ack FragmentAck) {
		// Informational only; completion is driven by fragment:processed.
	})
	conn.On("fragment:processed", func(ch *gosocketio.Channel, processed FragmentProcessed) {
		c.handleProcessed(processed)
	})
	conn.On("backpressure", func(ch *gosocketio.Channel, ev BackpressureEvent) {
		c.handleBackpressure(ev)
	})
	conn.On("error", func(ch *gosocketio.Channel, wireErr WireError) {
		if wireErr.Retryable {
			c.breaker.RecordFailure(domain.STSErrorCode(wireErr.Code))
		}
	})

	if err := conn.Emit("stream:init", StreamInit{
		StreamID:    c.streamID,
		WorkerID:    c.workerID,
		SourceLang:  c.sourceLang,
		TargetLang:  c.targetLang,
		MaxInflight: maxInflight,
		TimeoutMS:   timeoutMS,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("sts: stream:init: %w", err)
	}

	select {
	case ready := <-readyCh:
		c.mu.Lock()
		c.session = Session{SessionID: ready.SessionID, Lifecycle: Active, MaxInflight: maxInflight, TimeoutMS: timeoutMS}
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// Close sends stream:end and closes the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.session.Lifecycle = Ending
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.Emit("stream:end", struct{}{})
	return conn.Close()
}

// Send gates and transmits one audio segment (spec.md §4.3). It returns
// immediately after sending; the result arrives asynchronously via
// onDubbed/onFallback.
func (c *Client) Send(ctx context.Context, fragmentID string, batch uint64, payload []byte, pts time.Duration, sampleRateHz, channels int, duration time.Duration) {
	if c.breaker.ShouldSend() == circuitbreaker.Fallback {
		c.fallback(fragmentID, fmt.Errorf("sts: circuit breaker open"))
		return
	}

	id, err := parseUUID(fragmentID)
	if err != nil {
		c.fallback(fragmentID, err)
		return
	}
	if !c.tracker.Track(id, batch) {
		c.fallback(fragmentID, fmt.Errorf("sts: fragment tracker at capacity"))
		return
	}

	if err := c.gate.WaitAndDelay(ctx); err != nil {
		c.tracker.Complete(id)
		c.fallback(fragmentID, fmt.Errorf("sts: backpressure wait: %w", err))
		return
	}

	fd, err := EncodeFragment(c.streamID, id, batch, pts.Milliseconds(), payload, sampleRateHz, channels, duration)
	if err != nil {
		c.tracker.Complete(id)
		c.breaker.RecordFailure(domain.ErrFragmentTooLarge)
		c.fallback(fragmentID, err)
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.Emit("fragment:data", fd) != nil {
		c.tracker.Complete(id)
		c.breaker.RecordFailure(domain.ErrTimeout)
		c.fallback(fragmentID, fmt.Errorf("sts: emit failed"))
	}
}

// OnTrackerTimeout is the fragment.TimeoutFunc C9 wires into the tracker;
// it reports a retryable failure to the breaker and falls back to
// original audio (spec.md §4.4: "reports the timeout to the circuit
// breaker as a retryable failure").
func (c *Client) OnTrackerTimeout(e fragment.Entry) {
	c.breaker.RecordFailure(domain.ErrTimeout)
	c.fallback(e.FragmentID.String(), fmt.Errorf("sts: fragment timed out"))
}

func (c *Client) handleProcessed(p FragmentProcessed) {
	id, err := parseUUID(p.FragmentID)
	if err == nil {
		c.tracker.Complete(id)
	}

	switch p.Status {
	case "success", "partial":
		c.breaker.RecordSuccess()
		dubbed, err := base64.StdEncoding.DecodeString(p.DubbedAudio)
		if err != nil {
			c.fallback(p.FragmentID, err)
			return
		}
		if c.onDubbed != nil {
			c.onDubbed(p.FragmentID, dubbed)
		}
	default: // failed
		code := domain.STSErrorCode("MODEL_ERROR")
		if p.Error != nil {
			code = domain.STSErrorCode(p.Error.Code)
		}
		if !code.IsRetryable() {
			// Permanent errors are logged and dropped, not substituted
			// with original audio: retrying or falling back would just
			// repeat a failure the input itself caused (spec.md §4.6/§7).
			c.dropFragment(p.FragmentID, code)
			return
		}
		c.breaker.RecordFailure(code)
		c.fallback(p.FragmentID, fmt.Errorf("sts: fragment failed: %s", code))
	}
}

// dropFragment discards a fragment that failed permanently: no retry, no
// fallback to original audio, and the circuit breaker is left unaffected
// since the error originated with the input, not the STS processor.
func (c *Client) dropFragment(fragmentID string, code domain.STSErrorCode) {
	if c.onDropped != nil {
		c.onDropped(fragmentID, code)
	}
}

func (c *Client) handleBackpressure(ev BackpressureEvent) {
	switch ev.Action {
	case "pause":
		c.gate.SetPause()
	case "none":
		c.gate.SetNone()
	default: // slow_down
		var recommended time.Duration
		if ev.RecommendedDelayMS > 0 {
			recommended = time.Duration(ev.RecommendedDelayMS) * time.Millisecond
		}
		c.gate.SetSlowDown(backpressure.Severity(ev.Severity), recommended)
	}
}

func (c *Client) fallback(fragmentID string, reason error) {
	if c.onFallback != nil {
		c.onFallback(fragmentID, reason)
	}
}

func (c *Client) setLifecycle(l Lifecycle) {
	c.mu.Lock()
	c.session.Lifecycle = l
	c.mu.Unlock()
}

// Session returns a snapshot of the client's session state.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
