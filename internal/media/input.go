// Package media implements the RTMP media pipeline (spec.md §4.1,
// component C1): pulling H.264/AAC from an RTMP source and pushing a
// synchronized A/V stream to an RTMP sink. It is grounded on the
// teacher's relay package insofar as both wrap a streaming transport
// behind a small buffer-callback contract, but the transport itself —
// absent from the teacher, which consumes already-demuxed MPEG-TS — is
// new: github.com/yutopp/go-rtmp for the wire protocol and
// github.com/yutopp/go-flv's tag codec for audio/video payload framing.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
)

// Buffer is one demuxed media unit, matching internal/segment.Buffer's
// shape so C2 can consume it directly.
type Buffer struct {
	Payload  []byte
	PTS      time.Duration
	Duration time.Duration
	Keyframe bool
}

// OnVideoFunc and OnAudioFunc are invoked from the RTMP handler's
// goroutine (spec.md §4.1: "invoked in arbitrary scheduler context").
type OnVideoFunc func(Buffer)
type OnAudioFunc func(Buffer)

// audioTrackWindow bounds how long Input waits for the first audio
// message before declaring the source audio-less (spec.md §4.1: "checked
// within a bounded startup window, e.g. 2 s").
const audioTrackWindow = 2 * time.Second

// ErrNoAudioTrack is returned by Input.Run when no audio message arrives
// within audioTrackWindow of the stream starting.
var ErrNoAudioTrack = fmt.Errorf("rtmp input: no audio track within %s of stream start", audioTrackWindow)

// AudioConfig is the decoded AAC AudioSpecificConfig carried in the
// sequence-header tag FLV sends once at the start of the audio track. It
// replaces the hardcoded 48kHz/stereo assumption C9 would otherwise send
// to STS alongside every fragment.
type AudioConfig struct {
	SampleRate int
	Channels   int
}

// defaultAudioConfig is used until the sequence header arrives.
var defaultAudioConfig = AudioConfig{SampleRate: 48000, Channels: 2}

// Input pulls an RTMP stream and demuxes it into timestamped video and
// audio buffers.
type Input struct {
	url      string
	onVideo  OnVideoFunc
	onAudio  OnAudioFunc
	bw       *BandwidthTracker

	mu           sync.Mutex
	sawAudio     bool
	lastVideoPTS time.Duration
	lastAudioPTS time.Duration
	audioConfig  AudioConfig
}

// NewInput creates an RTMP input pulling from url (spec.md §6:
// "rtmp://host:port/app/stream_id/in").
func NewInput(url string, onVideo OnVideoFunc, onAudio OnAudioFunc) *Input {
	return &Input{url: url, onVideo: onVideo, onAudio: onAudio, bw: NewBandwidthTracker(), audioConfig: defaultAudioConfig}
}

// Bandwidth returns the tracker recording bytes read from the source.
func (in *Input) Bandwidth() *BandwidthTracker {
	return in.bw
}

// AudioConfig returns the sample rate/channel count decoded from the AAC
// sequence header, or defaultAudioConfig if it has not arrived yet.
func (in *Input) AudioConfig() AudioConfig {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.audioConfig
}

// Run dials the RTMP source and blocks, feeding buffers to the
// registered callbacks until ctx is cancelled or the connection fails.
// A missing audio track within the startup window is a hard error
// (spec.md §4.1).
func (in *Input) Run(ctx context.Context) error {
	handler := &inputHandler{in: in, errCh: make(chan error, 1)}

	conn, err := rtmp.Dial(rtmp.ClientTypePlay, in.url, &rtmp.ConnConfig{
		Handler: handler,
	})
	if err != nil {
		return fmt.Errorf("rtmp input: dial: %w", err)
	}
	defer conn.Close()

	stream, err := conn.CreateStream(ctx, nil)
	if err != nil {
		return fmt.Errorf("rtmp input: create stream: %w", err)
	}

	if err := stream.Play(ctx, streamKeyOf(in.url)); err != nil {
		return fmt.Errorf("rtmp input: play: %w", err)
	}

	audioTimer := time.NewTimer(audioTrackWindow)
	defer audioTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-handler.errCh:
			return err
		case <-audioTimer.C:
			in.mu.Lock()
			sawAudio := in.sawAudio
			in.mu.Unlock()
			if !sawAudio {
				return ErrNoAudioTrack
			}
		}
	}
}

type inputHandler struct {
	rtmp.DefaultHandler
	in    *Input
	errCh chan error
}

func (h *inputHandler) OnAudio(timestamp uint32, payload io.Reader) error {
	var tag flvtag.AudioData
	if err := flvtag.DecodeAudioData(payload, &tag); err != nil {
		return err
	}

	body := new(bytes.Buffer)
	if _, err := io.Copy(body, tag.Data); err != nil {
		return err
	}
	h.in.bw.Add(uint64(body.Len()))

	if tag.AACPacketType == flvtag.AACPacketTypeSequenceHeader {
		var asc mpeg4audio.AudioSpecificConfig
		decoded := asc.Unmarshal(body.Bytes()) == nil

		h.in.mu.Lock()
		if decoded {
			h.in.audioConfig = AudioConfig{SampleRate: asc.SampleRate, Channels: asc.ChannelCount}
		}
		h.in.sawAudio = true
		h.in.mu.Unlock()
		return nil
	}

	h.in.mu.Lock()
	h.in.sawAudio = true
	pts := time.Duration(timestamp) * time.Millisecond
	dur := pts - h.in.lastAudioPTS
	h.in.lastAudioPTS = pts
	h.in.mu.Unlock()

	if h.in.onAudio != nil {
		h.in.onAudio(Buffer{Payload: body.Bytes(), PTS: pts, Duration: dur})
	}
	return nil
}

func (h *inputHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	var tag flvtag.VideoData
	if err := flvtag.DecodeVideoData(payload, &tag); err != nil {
		return err
	}

	body := new(bytes.Buffer)
	if _, err := io.Copy(body, tag.Data); err != nil {
		return err
	}
	h.in.bw.Add(uint64(body.Len()))

	h.in.mu.Lock()
	pts := time.Duration(timestamp) * time.Millisecond
	dur := pts - h.in.lastVideoPTS
	h.in.lastVideoPTS = pts
	h.in.mu.Unlock()

	if h.in.onVideo != nil {
		h.in.onVideo(Buffer{
			Payload:  body.Bytes(),
			PTS:      pts,
			Duration: dur,
			Keyframe: tag.FrameType == flvtag.FrameTypeKeyFrame,
		})
	}
	return nil
}

func (h *inputHandler) OnClose() {
	select {
	case h.errCh <- io.EOF:
	default:
	}
}
