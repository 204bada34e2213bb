package pushchannel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reel/internal/scene"
)

// Event types on the wire.
const (
	TypeSceneUpdate = "scene_update"
	TypeConnected   = "connected"
	TypeComplete    = "complete"
	TypeError       = "error"
)

// Event is one of SceneUpdateEvent, ConnectedEvent, CompleteEvent or
// ErrorEvent.
type Event interface {
	Type() string
	isEvent()
}

// SceneUpdateEvent proposes new status for one scene.
type SceneUpdateEvent struct {
	Update scene.Update
}

// ConnectedEvent confirms the subscription is live.
type ConnectedEvent struct {
	At time.Time
}

// CompleteEvent signals that no further updates will be sent on this stream.
type CompleteEvent struct{}

// ErrorEvent is a server-reported failure, optionally scoped to a scene.
type ErrorEvent struct {
	SceneID string
	Code    string
	Message string
}

func (SceneUpdateEvent) Type() string { return TypeSceneUpdate }
func (ConnectedEvent) Type() string   { return TypeConnected }
func (CompleteEvent) Type() string    { return TypeComplete }
func (ErrorEvent) Type() string       { return TypeError }

func (SceneUpdateEvent) isEvent() {}
func (ConnectedEvent) isEvent()   {}
func (CompleteEvent) isEvent()    {}
func (ErrorEvent) isEvent()       {}

type wireEvent struct {
	Type           string  `json:"type"`
	SceneID        string  `json:"sceneId"`
	Phase          string  `json:"phase"`
	TextStatus     string  `json:"textStatus"`
	ImageStatus    string  `json:"imageStatus"`
	VideoStatus    string  `json:"videoStatus"`
	ImageURL       string  `json:"imageUrl"`
	VideoURL       string  `json:"videoUrl"`
	SourceDuration float64 `json:"sourceDuration"`
	Error          string  `json:"error"`
	ErrorCode      string  `json:"errorCode"`
	JobID          string  `json:"jobId"`
	Message        string  `json:"message"`
}

// Decode narrows one frame into an Event. name is the SSE event field, which
// wins over the payload's type when both are present.
func Decode(name string, data []byte, now time.Time) (Event, error) {
	var wire wireEvent
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
	}
	kind := strings.TrimSpace(name)
	if kind == "" || kind == "message" {
		kind = strings.TrimSpace(wire.Type)
	}
	switch kind {
	case TypeSceneUpdate:
		update, err := wire.update(now)
		if err != nil {
			return nil, err
		}
		return SceneUpdateEvent{Update: update}, nil
	case TypeConnected:
		return ConnectedEvent{At: now}, nil
	case TypeComplete:
		return CompleteEvent{}, nil
	case TypeError:
		msg := firstNonEmpty(wire.Error, wire.Message)
		return ErrorEvent{SceneID: strings.TrimSpace(wire.SceneID), Code: wire.ErrorCode, Message: msg}, nil
	case "":
		return nil, fmt.Errorf("event has no type")
	default:
		return nil, fmt.Errorf("unknown event type %q", kind)
	}
}

func (w wireEvent) update(now time.Time) (scene.Update, error) {
	u := scene.Update{
		SceneID:        strings.TrimSpace(w.SceneID),
		ImageURL:       strings.TrimSpace(w.ImageURL),
		VideoURL:       strings.TrimSpace(w.VideoURL),
		SourceDuration: w.SourceDuration,
		Error:          strings.TrimSpace(w.Error),
		ErrorCode:      strings.TrimSpace(w.ErrorCode),
		JobID:          strings.TrimSpace(w.JobID),
		Source:         scene.SourcePush,
		ReceivedAt:     now,
	}
	if u.SceneID == "" {
		return scene.Update{}, fmt.Errorf("scene_update missing sceneId")
	}
	if w.Phase != "" {
		phase, ok := scene.ParsePhase(w.Phase)
		if !ok {
			return scene.Update{}, fmt.Errorf("scene_update %s: unknown phase %q", u.SceneID, w.Phase)
		}
		u.Phase = phase
	}
	var err error
	if u.TextStatus, err = parseStatus(u.SceneID, "text", w.TextStatus); err != nil {
		return scene.Update{}, err
	}
	if u.ImageStatus, err = parseStatus(u.SceneID, "image", w.ImageStatus); err != nil {
		return scene.Update{}, err
	}
	if u.VideoStatus, err = parseStatus(u.SceneID, "video", w.VideoStatus); err != nil {
		return scene.Update{}, err
	}
	return u, nil
}

func parseStatus(sceneID, field, value string) (scene.Status, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	status, ok := scene.ParseStatus(value)
	if !ok {
		return "", fmt.Errorf("scene_update %s: unknown %s status %q", sceneID, field, value)
	}
	return status, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
