package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"reel/internal/config"
	"reel/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventVideoCompleted, notifications.Payload{"sceneId": "a"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "video completed",
			event: notifications.EventVideoCompleted,
			payload: notifications.Payload{
				"sceneId":  "a",
				"position": "2",
				"text":     "harbor at dawn",
			},
			expectTitle:   "Reel - Video Ready",
			expectMessage: "🎞️ Video ready: scene 2 (harbor at dawn)",
			expectTags:    "reel,video,completed",
		},
		{
			name:  "video failed",
			event: notifications.EventVideoFailed,
			payload: notifications.Payload{
				"sceneId":  "b",
				"position": "1",
				"phase":    "Video",
				"error":    "rejected by content policy",
			},
			expectTitle:    "Reel - Generation Failed",
			expectMessage:  "❌ Video failed for scene 1\nrejected by content policy",
			expectTags:     "reel,error,alert",
			expectPriority: "high",
		},
		{
			name:  "scene failed without position",
			event: notifications.EventSceneFailed,
			payload: notifications.Payload{
				"sceneId": "c",
			},
			expectTitle:    "Reel - Generation Failed",
			expectMessage:  "❌ Failed: scene c",
			expectTags:     "reel,error,alert",
			expectPriority: "high",
		},
		{
			name:  "storyboard ready",
			event: notifications.EventStoryboardReady,
			payload: notifications.Payload{
				"storyboardId": "sb-1",
				"scenes":       "3",
			},
			expectTitle:    "Reel - Storyboard Complete",
			expectMessage:  "✅ All 3 scenes have video: sb-1",
			expectTags:     "reel,storyboard,completed",
			expectPriority: "high",
		},
		{
			name:          "push fallback",
			event:         notifications.EventPushFallback,
			payload:       notifications.Payload{"storyboardId": "sb-1"},
			expectTitle:   "Reel - Live Updates Unavailable",
			expectMessage: "Falling back to polling for sb-1",
			expectTags:    "reel,push,degraded",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Reel - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "reel,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title     string
				tags      string
				priority  string
				userAgent string
				body      string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				captured.userAgent = r.Header.Get("User-Agent")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
			if captured.userAgent == "" {
				t.Fatal("expected a user agent header")
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Video = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	suppressed := []notifications.Event{
		notifications.EventVideoCompleted,
		notifications.EventStoryboardReady,
		notifications.EventVideoFailed,
		notifications.EventSceneFailed,
		notifications.EventPushFallback,
		notifications.Event("unknown"),
	}

	for _, event := range suppressed {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
