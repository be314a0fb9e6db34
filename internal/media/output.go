package media

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// Output publishes paced video/audio buffers to an RTMP sink as an FLV
// byte stream (spec.md §4.1 "Output (push)").
type Output struct {
	url string
	bw  *BandwidthTracker

	mu     sync.Mutex
	conn   *rtmp.ClientConn
	stream *rtmp.Stream
}

// NewOutput creates an RTMP output publishing to url (spec.md §6:
// "rtmp://host:port/app/stream_id/out").
func NewOutput(url string) *Output {
	return &Output{url: url, bw: NewBandwidthTracker()}
}

// Bandwidth returns the tracker recording bytes published to the sink.
func (out *Output) Bandwidth() *BandwidthTracker {
	return out.bw
}

// Connect dials the RTMP sink and begins publishing. It must be called
// before PushVideo/PushAudio.
func (out *Output) Connect(ctx context.Context) error {
	conn, err := rtmp.Dial(rtmp.ClientTypePublish, out.url, &rtmp.ConnConfig{
		Handler: &rtmp.DefaultHandler{},
	})
	if err != nil {
		return fmt.Errorf("rtmp output: dial: %w", err)
	}

	stream, err := conn.CreateStream(ctx, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("rtmp output: create stream: %w", err)
	}

	if err := stream.Publish(ctx, streamKeyOf(out.url)); err != nil {
		conn.Close()
		return fmt.Errorf("rtmp output: publish: %w", err)
	}

	out.mu.Lock()
	out.conn, out.stream = conn, stream
	out.mu.Unlock()
	return nil
}

// Close tears down the output connection.
func (out *Output) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.conn == nil {
		return nil
	}
	err := out.conn.Close()
	out.conn, out.stream = nil, nil
	return err
}

// PushVideo publishes a video buffer at the given presentation timestamp
// (spec.md §4.1: "timestamps drive pacing").
func (out *Output) PushVideo(payload []byte, pts time.Duration, keyframe bool) error {
	frameType := flvtag.FrameTypeInterFrame
	if keyframe {
		frameType = flvtag.FrameTypeKeyFrame
	}

	tag := flvtag.VideoData{
		FrameType:       frameType,
		CodecID:         flvtag.CodecIDAVC,
		AVCPacketType:   flvtag.AVCPacketTypeNALU,
		CompositionTime: 0,
		Data:            bytes.NewReader(payload),
	}

	buf := new(bytes.Buffer)
	if err := flvtag.EncodeVideoData(buf, &tag); err != nil {
		return fmt.Errorf("rtmp output: encode video tag: %w", err)
	}
	out.bw.Add(uint64(buf.Len()))

	return out.write(videoChunkStreamID, uint32(pts.Milliseconds()), &rtmpmsg.VideoMessage{Payload: buf})
}

// PushAudio publishes an audio buffer at the given presentation timestamp.
func (out *Output) PushAudio(payload []byte, pts time.Duration) error {
	tag := flvtag.AudioData{
		SoundFormat:   flvtag.SoundFormatAAC,
		SoundRate:     flvtag.SoundRate44kHz,
		SoundSize:     flvtag.SoundSize16Bit,
		SoundType:     flvtag.SoundTypeStereo,
		AACPacketType: flvtag.AACPacketTypeRaw,
		Data:          bytes.NewReader(payload),
	}

	buf := new(bytes.Buffer)
	if err := flvtag.EncodeAudioData(buf, &tag); err != nil {
		return fmt.Errorf("rtmp output: encode audio tag: %w", err)
	}
	out.bw.Add(uint64(buf.Len()))

	return out.write(audioChunkStreamID, uint32(pts.Milliseconds()), &rtmpmsg.AudioMessage{Payload: buf})
}

// Conventional RTMP chunk stream IDs for audio/video message channels.
const (
	audioChunkStreamID = 4
	videoChunkStreamID = 6
)

func (out *Output) write(chunkStreamID int, timestamp uint32, msg rtmpmsg.Message) error {
	out.mu.Lock()
	stream := out.stream
	out.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("rtmp output: not connected")
	}
	return stream.Write(chunkStreamID, timestamp, msg)
}
