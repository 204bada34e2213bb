package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reel/internal/config"
)

const userAgent = "Reel-Go/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventVideoCompleted  Event = "video_completed"
	EventVideoFailed     Event = "video_failed"
	EventSceneFailed     Event = "scene_failed"
	EventStoryboardReady Event = "storyboard_ready"
	EventPushFallback    Event = "push_fallback"
	EventTest            Event = "test"
)

// Payload carries event fields by name.
type Payload map[string]string

// Service defines the notification surface.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		video:    cfg.Notifications.Video,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	video    bool
	errors   bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, fields Payload) error {
	data, ok := n.format(event, fields)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

// format renders an event; false means the event is suppressed.
func (n *ntfyService) format(event Event, fields Payload) (payload, bool) {
	label := sceneLabel(fields)
	switch event {
	case EventVideoCompleted:
		if !n.video {
			return payload{}, false
		}
		return payload{
			title:   "Reel - Video Ready",
			message: fmt.Sprintf("🎞️ Video ready: %s", label),
			tags:    []string{"reel", "video", "completed"},
		}, true
	case EventStoryboardReady:
		if !n.video {
			return payload{}, false
		}
		return payload{
			title:    "Reel - Storyboard Complete",
			message:  fmt.Sprintf("✅ All %s scenes have video: %s", fields["scenes"], fields["storyboardId"]),
			tags:     []string{"reel", "storyboard", "completed"},
			priority: "high",
		}, true
	case EventVideoFailed, EventSceneFailed:
		if !n.errors {
			return payload{}, false
		}
		var builder strings.Builder
		builder.WriteString("❌ ")
		if phase := strings.TrimSpace(fields["phase"]); phase != "" {
			builder.WriteString(phase)
			builder.WriteString(" failed for ")
		} else {
			builder.WriteString("Failed: ")
		}
		builder.WriteString(label)
		if msg := strings.TrimSpace(fields["error"]); msg != "" {
			builder.WriteString("\n")
			builder.WriteString(msg)
		}
		return payload{
			title:    "Reel - Generation Failed",
			message:  builder.String(),
			tags:     []string{"reel", "error", "alert"},
			priority: "high",
		}, true
	case EventPushFallback:
		if !n.errors {
			return payload{}, false
		}
		return payload{
			title:   "Reel - Live Updates Unavailable",
			message: fmt.Sprintf("Falling back to polling for %s", fields["storyboardId"]),
			tags:    []string{"reel", "push", "degraded"},
		}, true
	case EventTest:
		return payload{
			title:    "Reel - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"reel", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func sceneLabel(fields Payload) string {
	label := "scene " + fields["position"]
	if fields["position"] == "" {
		label = "scene " + fields["sceneId"]
	}
	if text := strings.TrimSpace(fields["text"]); text != "" {
		label += " (" + text + ")"
	}
	return label
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
