package hooks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/kobaltstream/dubrelay/internal/config"
	"github.com/kobaltstream/dubrelay/internal/domain"
)

// Manager is the subset of *manager.Manager the hook handler depends on.
type Manager interface {
	StartWorker(ctx context.Context, cfg domain.WorkerConfig) error
	StopWorker(ctx context.Context, streamID string) error
}

// Handler wires the router's ready/not-ready hooks to worker start/stop.
// Only direction=="in" events drive a worker; "out" events are acknowledged
// and ignored (spec.md §6).
type Handler struct {
	manager  Manager
	template config.WorkerConfig
	logger   *slog.Logger
}

// New constructs a hook handler. template supplies the per-process defaults
// (sts_url, language pair, segmentation/VAD settings, RTMP host/port/app)
// that are combined with each event's path-derived stream id.
func New(manager Manager, template config.WorkerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, template: template, logger: logger}
}

// Register registers the /ready and /not-ready operations with the API.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "handleReady",
		Method:      "POST",
		Path:        "/ready",
		Summary:     "Stream ready hook",
		Tags:        []string{"Hooks"},
	}, h.handleReady)

	huma.Register(api, huma.Operation{
		OperationID: "handleNotReady",
		Method:      "POST",
		Path:        "/not-ready",
		Summary:     "Stream not-ready hook",
		Tags:        []string{"Hooks"},
	}, h.handleNotReady)
}

// eventInput is the huma request wrapper: Body is the decoded Event.
type eventInput struct {
	Body Event
}

// eventOutput reports what the handler did, mirroring original_source's
// {"status": ..., "stream_id": ...} response shape.
type eventOutput struct {
	Body struct {
		Status   string `json:"status"`
		StreamID string `json:"stream_id"`
		Message  string `json:"message,omitempty"`
	}
}

func (h *Handler) handleReady(ctx context.Context, in *eventInput) (*eventOutput, error) {
	event := in.Body
	if err := event.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	streamID := event.StreamID()
	out := &eventOutput{}
	out.Body.StreamID = streamID

	if event.Direction() != "in" {
		h.logger.Debug("skipping worker start for non-input stream", slog.String("stream_id", streamID), slog.String("direction", event.Direction()))
		out.Body.Status = "skipped"
		out.Body.Message = "non-input stream, worker not created"
		return out, nil
	}

	cfg := h.workerConfig(streamID)
	if err := h.manager.StartWorker(ctx, cfg); err != nil {
		h.logger.Error("failed to start worker", slog.String("stream_id", streamID), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to start worker")
	}

	h.logger.Info("worker started", slog.String("stream_id", streamID))
	out.Body.Status = "worker_started"
	return out, nil
}

func (h *Handler) handleNotReady(ctx context.Context, in *eventInput) (*eventOutput, error) {
	event := in.Body
	if err := event.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	streamID := event.StreamID()
	out := &eventOutput{}
	out.Body.StreamID = streamID

	if event.Direction() != "in" {
		h.logger.Debug("skipping worker stop for non-input stream", slog.String("stream_id", streamID), slog.String("direction", event.Direction()))
		out.Body.Status = "skipped"
		out.Body.Message = "non-input stream, no worker to stop"
		return out, nil
	}

	if err := h.manager.StopWorker(ctx, streamID); err != nil {
		h.logger.Error("failed to stop worker", slog.String("stream_id", streamID), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to stop worker")
	}

	h.logger.Info("worker stopped", slog.String("stream_id", streamID))
	out.Body.Status = "worker_stopped"
	return out, nil
}

// workerConfig builds the full domain.WorkerConfig for streamID from the
// process-wide template (spec.md §6 WorkerConfig recognized options).
func (h *Handler) workerConfig(streamID string) domain.WorkerConfig {
	t := h.template
	return domain.WorkerConfig{
		StreamID:         streamID,
		RTMPInputURL:     fmt.Sprintf("rtmp://%s:%d/%s/%s/in", t.RTMPHost, t.RTMPPort, t.RTMPApp, streamID),
		RTMPOutputURL:    fmt.Sprintf("rtmp://%s:%d/%s/%s/out", t.RTMPHost, t.RTMPPort, t.RTMPApp, streamID),
		STSURL:           t.STSURL,
		SourceLang:       t.SourceLang,
		TargetLang:       t.TargetLang,
		Credentials:      t.Credentials,
		SegmentDuration:  t.SegmentDuration,
		MaxInflight:      t.MaxInflight,
		FragmentTimeout:  t.FragmentTimeout,
		AVOffset:         t.AVOffset,
		DriftThreshold:   t.DriftThreshold,
		SlewRate:         t.SlewRate,
		MemoryLimitBytes: t.MemoryLimitBytes.Int64(),
		VAD: domain.VADConfig{
			WindowSize:         t.VAD.WindowSize,
			SilenceThresholdDB: t.VAD.SilenceThresholdDB,
			SilenceDuration:    t.VAD.SilenceDuration,
			MinSegment:         t.VAD.MinSegment,
			MaxSegment:         t.VAD.MaxSegment,
		},
	}
}
