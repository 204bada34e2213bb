package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"reel/internal/jobclient"
	"reel/internal/pushchannel"
	"reel/internal/reconcile"
	"reel/internal/scene"
	"reel/internal/testsupport"
)

const storyboardID = "sb-1"

type harness struct {
	backend *testsupport.Backend
	store   *reconcile.Store

	mu    sync.Mutex
	snaps []reconcile.Snapshot
}

type harnessOption func(*reconcile.Options, *testsupport.Backend)

func withPushDisabled() harnessOption {
	return func(o *reconcile.Options, _ *testsupport.Backend) { o.PushEnabled = false }
}

func withOptions(fn func(*reconcile.Options)) harnessOption {
	return func(o *reconcile.Options, _ *testsupport.Backend) { fn(o) }
}

func textOnly(id, text string) scene.Scene {
	return scene.Scene{ID: id, Text: text, DurationSeconds: 5,
		Generation: scene.GenerationStatus{Text: scene.StatusComplete}}
}

func withImage(id string) scene.Scene {
	return scene.Scene{
		ID:              id,
		Text:            "scene " + id,
		DurationSeconds: 5,
		Phase:           scene.PhaseImage,
		Generation:      scene.GenerationStatus{Text: scene.StatusComplete, Image: scene.StatusComplete},
		ImageURL:        "https://cdn.test/" + id + "/image.png",
	}
}

// newHarness seeds sb-1 with the given scenes (a, b, c by default), loads it
// into a store wired to the real job client and push adapter, and records
// every published snapshot.
func newHarness(t *testing.T, scenes []scene.Scene, opts ...harnessOption) *harness {
	t.Helper()
	b := testsupport.NewBackend(t)
	if scenes == nil {
		scenes = []scene.Scene{textOnly("a", "harbor at dawn"), textOnly("b", "gulls overhead"), textOnly("c", "ferry departs")}
	}
	b.Seed(storyboardID, scenes...)

	cfg := testsupport.NewConfig(t, testsupport.WithBackend(b))
	client := jobclient.NewFromConfig(cfg, nil, jobclient.WithSleeper(func(time.Duration) {}))
	adapter := pushchannel.New(client)

	o := reconcile.OptionsFromConfig(cfg)
	o.ReconnectBackoff = 10 * time.Millisecond
	o.MaxReconnectFailures = 3
	o.GracePeriod = 50 * time.Millisecond
	o.PollInterval = 5 * time.Millisecond
	o.PollMaxAttempts = 400
	o.ContentPolicyRetries = 2
	o.ContentPolicyRetryDelay = time.Millisecond
	for _, opt := range opts {
		opt(&o, b)
	}

	h := &harness{backend: b}
	h.store = reconcile.New(client, adapter, o)
	t.Cleanup(h.store.Close)
	h.store.Subscribe(func(s reconcile.Snapshot) {
		h.mu.Lock()
		h.snaps = append(h.snaps, s)
		h.mu.Unlock()
	})
	if _, err := h.store.LoadExisting(context.Background(), storyboardID); err != nil {
		t.Fatalf("LoadExisting: %v", err)
	}
	return h
}

func (h *harness) snapshots() []reconcile.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]reconcile.Snapshot(nil), h.snaps...)
}

func (h *harness) scene(t *testing.T, id string) scene.Scene {
	t.Helper()
	sc, ok := h.store.Scene(id)
	if !ok {
		t.Fatalf("scene %s missing", id)
	}
	return sc
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// checkConsistent asserts the order and the scene collection describe the
// same set of scenes.
func checkConsistent(t *testing.T, snap reconcile.Snapshot) {
	t.Helper()
	order := snap.Storyboard.SceneOrder
	if scene.HasDuplicates(order) {
		t.Fatalf("version %d: duplicate ids in order %v", snap.Version, order)
	}
	if len(order) != len(snap.Scenes) {
		t.Fatalf("version %d: order has %d ids, %d scenes", snap.Version, len(order), len(snap.Scenes))
	}
	for i, sc := range snap.Scenes {
		if sc.ID != order[i] {
			t.Fatalf("version %d: order references missing scene %s", snap.Version, order[i])
		}
	}
	if len(order) == 0 && snap.ActiveIndex != -1 {
		t.Fatalf("version %d: active index %d on empty storyboard", snap.Version, snap.ActiveIndex)
	}
	if snap.ActiveIndex >= len(order) {
		t.Fatalf("version %d: active index %d out of range", snap.Version, snap.ActiveIndex)
	}
}
