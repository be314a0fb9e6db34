// Package hooks implements the ready/not-ready hook receiver (SPEC_FULL §7
// "Hook schema contract"): a thin HTTP listener the media router POSTs to
// when a stream's input or output side becomes available or unavailable.
// Grounded on original_source/apps/media-service/src/media_service/api/hooks.py
// and its Event/ReadyEvent/NotReadyEvent models, reusing the teacher's
// internal/http server and middleware stack (chi + huma) for the listener
// itself.
package hooks

import (
	"fmt"
	"regexp"
	"strings"
)

// pathPattern matches "live/<streamId>/(in|out)", the same regex
// original_source's HookEvent.path field enforces.
var pathPattern = regexp.MustCompile(`^live/[a-zA-Z0-9_-]+/(in|out)$`)

// Event is the JSON body the router posts to both /ready and /not-ready.
// Field names and casing mirror the original contract exactly (spec.md §6).
type Event struct {
	Path       string `json:"path"`
	Query      string `json:"query,omitempty"`
	SourceType string `json:"sourceType"`
	SourceID   string `json:"sourceId"`
}

// validSourceTypes are the router-supported source protocols.
var validSourceTypes = map[string]bool{"rtmp": true, "rtsp": true, "webrtc": true}

// Validate enforces the path regex and source type enum spec.md §6 requires.
func (e Event) Validate() error {
	if !pathPattern.MatchString(e.Path) {
		return fmt.Errorf(`path must match pattern "live/<streamId>/(in|out)", got %q`, e.Path)
	}
	if !validSourceTypes[e.SourceType] {
		return fmt.Errorf("sourceType must be one of rtmp, rtsp, webrtc, got %q", e.SourceType)
	}
	if e.SourceID == "" {
		return fmt.Errorf("sourceId is required")
	}
	return nil
}

// StreamID extracts the stream id from path ("live/<streamId>/in" -> streamId).
func (e Event) StreamID() string {
	parts := strings.Split(e.Path, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// Direction extracts "in" or "out" from path.
func (e Event) Direction() string {
	parts := strings.Split(e.Path, "/")
	if len(parts) >= 3 {
		return parts[2]
	}
	return ""
}
