package notifications_test

import (
	"context"
	"sync"
	"testing"

	"reel/internal/logging"
	"reel/internal/notifications"
	"reel/internal/reconcile"
	"reel/internal/scene"
)

type recordingService struct {
	mu     sync.Mutex
	events []notifications.Event
	fields []notifications.Payload
}

func (r *recordingService) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.fields = append(r.fields, payload)
	return nil
}

func (r *recordingService) published() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...)
}

func videoScene(id string, video scene.Status) scene.Scene {
	return scene.Scene{
		ID:    id,
		Text:  "scene " + id,
		Phase: scene.PhaseVideo,
		Generation: scene.GenerationStatus{
			Text:  scene.StatusComplete,
			Image: scene.StatusComplete,
			Video: video,
		},
	}
}

func snapshot(version uint64, kind string, scenes ...scene.Scene) reconcile.Snapshot {
	order := make([]string, 0, len(scenes))
	for _, sc := range scenes {
		order = append(order, sc.ID)
	}
	return reconcile.Snapshot{
		Version:     version,
		Storyboard:  scene.Storyboard{ID: "sb-1", SceneOrder: order},
		Scenes:      scenes,
		ActiveIndex: 0,
		Channel:     reconcile.ChannelLive,
		Change:      reconcile.Change{Kind: kind},
	}
}

func TestWatcherPublishesTransitionsOnce(t *testing.T) {
	svc := &recordingService{}
	w := notifications.NewWatcher(svc, logging.NewNop())

	w.Observe(snapshot(1, reconcile.ChangeLoad,
		videoScene("a", scene.StatusGenerating),
		videoScene("b", scene.StatusGenerating),
	))
	w.Observe(snapshot(2, reconcile.ChangeScene,
		videoScene("a", scene.StatusComplete),
		videoScene("b", scene.StatusGenerating),
	))
	// Replaying the same state must not notify twice.
	w.Observe(snapshot(3, reconcile.ChangeScene,
		videoScene("a", scene.StatusComplete),
		videoScene("b", scene.StatusGenerating),
	))
	failed := videoScene("b", scene.StatusError)
	failed.ErrorMessage = "rejected"
	w.Observe(snapshot(4, reconcile.ChangeScene, videoScene("a", scene.StatusComplete), failed))
	w.Observe(snapshot(5, reconcile.ChangeScene,
		videoScene("a", scene.StatusComplete),
		videoScene("b", scene.StatusComplete),
	))
	w.Close()

	want := []notifications.Event{
		notifications.EventVideoCompleted,
		notifications.EventVideoFailed,
		notifications.EventVideoCompleted,
		notifications.EventStoryboardReady,
	}
	got := svc.published()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if svc.fields[1]["error"] != "rejected" || svc.fields[1]["position"] != "2" {
		t.Fatalf("unexpected failure payload %v", svc.fields[1])
	}
}

func TestWatcherLoadResetsBaseline(t *testing.T) {
	svc := &recordingService{}
	w := notifications.NewWatcher(svc, logging.NewNop())

	w.Observe(snapshot(1, reconcile.ChangeLoad, videoScene("a", scene.StatusGenerating)))
	w.Observe(snapshot(2, reconcile.ChangeLoad, videoScene("a", scene.StatusComplete)))
	w.Close()

	if got := svc.published(); len(got) != 0 {
		t.Fatalf("expected no events after reload, got %v", got)
	}
}

func TestWatcherReportsPollingFallback(t *testing.T) {
	svc := &recordingService{}
	w := notifications.NewWatcher(svc, logging.NewNop())

	w.Observe(snapshot(1, reconcile.ChangeLoad, videoScene("a", scene.StatusGenerating)))
	polling := snapshot(2, reconcile.ChangeChannel, videoScene("a", scene.StatusGenerating))
	polling.Channel = reconcile.ChannelPolling
	w.Observe(polling)
	polling.Version = 3
	w.Observe(polling)
	w.Close()

	got := svc.published()
	if len(got) != 1 || got[0] != notifications.EventPushFallback {
		t.Fatalf("expected a single fallback event, got %v", got)
	}
}

func TestWatcherIgnoresSnapshotsAfterClose(t *testing.T) {
	svc := &recordingService{}
	w := notifications.NewWatcher(svc, logging.NewNop())
	w.Observe(snapshot(1, reconcile.ChangeLoad, videoScene("a", scene.StatusGenerating)))
	w.Close()
	w.Close()

	w.Observe(snapshot(2, reconcile.ChangeScene, videoScene("a", scene.StatusComplete)))
	if got := svc.published(); len(got) != 0 {
		t.Fatalf("expected no events after close, got %v", got)
	}
}
