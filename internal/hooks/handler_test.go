package hooks

import (
	"context"
	"fmt"
	"testing"

	"github.com/kobaltstream/dubrelay/internal/config"
	"github.com/kobaltstream/dubrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	started []domain.WorkerConfig
	stopped []string
	startErr error
}

func (f *fakeManager) StartWorker(ctx context.Context, cfg domain.WorkerConfig) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, cfg)
	return nil
}

func (f *fakeManager) StopWorker(ctx context.Context, streamID string) error {
	f.stopped = append(f.stopped, streamID)
	return nil
}

func newTestHandler(m Manager) *Handler {
	return New(m, config.WorkerConfig{
		RTMPHost:   "mediamtx",
		RTMPPort:   1935,
		RTMPApp:    "live",
		STSURL:     "ws://localhost:3000",
		SourceLang: "en",
		TargetLang: "zh",
	}, nil)
}

func TestHandleReady_StartsWorkerForInputDirection(t *testing.T) {
	fm := &fakeManager{}
	h := newTestHandler(fm)

	out, err := h.handleReady(context.Background(), &eventInput{Body: Event{
		Path: "live/stream123/in", SourceType: "rtmp", SourceID: "1",
	}})
	require.NoError(t, err)
	assert.Equal(t, "worker_started", out.Body.Status)
	require.Len(t, fm.started, 1)
	assert.Equal(t, "stream123", fm.started[0].StreamID)
	assert.Equal(t, "rtmp://mediamtx:1935/live/stream123/in", fm.started[0].RTMPInputURL)
	assert.Equal(t, "rtmp://mediamtx:1935/live/stream123/out", fm.started[0].RTMPOutputURL)
}

func TestHandleReady_SkipsOutputDirection(t *testing.T) {
	fm := &fakeManager{}
	h := newTestHandler(fm)

	out, err := h.handleReady(context.Background(), &eventInput{Body: Event{
		Path: "live/stream123/out", SourceType: "rtmp", SourceID: "1",
	}})
	require.NoError(t, err)
	assert.Equal(t, "skipped", out.Body.Status)
	assert.Empty(t, fm.started)
}

func TestHandleReady_RejectsInvalidEvent(t *testing.T) {
	fm := &fakeManager{}
	h := newTestHandler(fm)

	_, err := h.handleReady(context.Background(), &eventInput{Body: Event{Path: "bad"}})
	assert.Error(t, err)
}

func TestHandleReady_PropagatesStartFailure(t *testing.T) {
	fm := &fakeManager{startErr: fmt.Errorf("boom")}
	h := newTestHandler(fm)

	_, err := h.handleReady(context.Background(), &eventInput{Body: Event{
		Path: "live/stream123/in", SourceType: "rtmp", SourceID: "1",
	}})
	assert.Error(t, err)
}

func TestHandleNotReady_StopsWorkerForInputDirection(t *testing.T) {
	fm := &fakeManager{}
	h := newTestHandler(fm)

	out, err := h.handleNotReady(context.Background(), &eventInput{Body: Event{
		Path: "live/stream123/in", SourceType: "rtmp", SourceID: "1",
	}})
	require.NoError(t, err)
	assert.Equal(t, "worker_stopped", out.Body.Status)
	assert.Equal(t, []string{"stream123"}, fm.stopped)
}

func TestHandleNotReady_SkipsOutputDirection(t *testing.T) {
	fm := &fakeManager{}
	h := newTestHandler(fm)

	out, err := h.handleNotReady(context.Background(), &eventInput{Body: Event{
		Path: "live/stream123/out", SourceType: "rtmp", SourceID: "1",
	}})
	require.NoError(t, err)
	assert.Equal(t, "skipped", out.Body.Status)
	assert.Empty(t, fm.stopped)
}
