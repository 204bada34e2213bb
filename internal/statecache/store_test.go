package statecache_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"reel/internal/reconcile"
	"reel/internal/scene"
	"reel/internal/services"
	"reel/internal/statecache"
	"reel/internal/testsupport"
)

func sampleSnapshot(version uint64) reconcile.Snapshot {
	return reconcile.Snapshot{
		Version: version,
		Storyboard: scene.Storyboard{
			ID:         "sb-1",
			Mood:       "calm",
			SceneOrder: []string{"a", "tmp-1", "b"},
		},
		Scenes: []scene.Scene{
			{ID: "a", Text: "harbor", DurationSeconds: 4, Phase: scene.PhaseImage,
				Generation: scene.GenerationStatus{Text: scene.StatusComplete, Image: scene.StatusComplete, Video: scene.StatusNone},
				ImageURL:   "https://cdn.test/a.png"},
			{ID: "tmp-1", Temporary: true, Phase: scene.PhaseText,
				Generation: scene.GenerationStatus{Text: scene.StatusGenerating, Image: scene.StatusNone, Video: scene.StatusNone}},
			{ID: "b", Text: "ferry", DurationSeconds: 5, Phase: scene.PhaseVideo,
				Generation: scene.GenerationStatus{Text: scene.StatusComplete, Image: scene.StatusComplete, Video: scene.StatusGenerating},
				Trim:       &scene.Trim{Start: 1, End: 2}},
		},
		ActiveIndex: 2,
		Channel:     reconcile.ChannelLive,
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := testsupport.MustOpenCache(t, cfg)
	ctx := context.Background()

	savedAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	if err := cache.Save(ctx, statecache.FromSnapshot(sampleSnapshot(7), savedAt)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err := cache.Load(ctx, "sb-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !scene.SameOrder(rec.Storyboard.SceneOrder, []string{"a", "b"}) {
		t.Fatalf("placeholders should not be cached, order %v", rec.Storyboard.SceneOrder)
	}
	if len(rec.Scenes) != 2 || rec.Scenes[1].ID != "b" {
		t.Fatalf("unexpected scenes %+v", rec.Scenes)
	}
	if rec.ActiveIndex != 1 {
		t.Fatalf("active index should follow scene b, got %d", rec.ActiveIndex)
	}
	if rec.Version != 7 || rec.Channel != reconcile.ChannelLive || !rec.SavedAt.Equal(savedAt) {
		t.Fatalf("unexpected record metadata %+v", rec)
	}
	if rec.Scenes[1].Trim == nil || rec.Scenes[1].Trim.End != 2 {
		t.Fatalf("trim lost: %+v", rec.Scenes[1])
	}
}

func TestSaveReplacesPreviousCopy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := testsupport.MustOpenCache(t, cfg)
	ctx := context.Background()

	if err := cache.Save(ctx, statecache.FromSnapshot(sampleSnapshot(1), time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	next := sampleSnapshot(2)
	next.Storyboard.SceneOrder = []string{"b"}
	next.Scenes = next.Scenes[2:]
	next.ActiveIndex = 0
	if err := cache.Save(ctx, statecache.FromSnapshot(next, time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err := cache.Load(ctx, "sb-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rec.Scenes) != 1 || rec.Scenes[0].ID != "b" {
		t.Fatalf("stale scenes kept: %+v", rec.Scenes)
	}
}

func TestLoadMissingIsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := testsupport.MustOpenCache(t, cfg)
	if _, err := cache.Load(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListSummarizesStatuses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := testsupport.MustOpenCache(t, cfg)
	ctx := context.Background()

	snap := sampleSnapshot(3)
	snap.Scenes[0].Generation.Image = scene.StatusError
	snap.Scenes[0].ErrorMessage = "failed"
	if err := cache.Save(ctx, statecache.FromSnapshot(snap, time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := cache.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one summary, got %d", len(list))
	}
	got := list[0]
	if got.StoryboardID != "sb-1" || got.Scenes != 2 || got.Generating != 1 || got.Failed != 1 || got.Mood != "calm" {
		t.Fatalf("unexpected summary %+v", got)
	}

	if err := cache.Delete(ctx, "sb-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if list, _ := cache.List(ctx); len(list) != 0 {
		t.Fatalf("expected empty cache, got %+v", list)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache, err := statecache.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := cache.Path()
	cache.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}
	db.Close()

	if _, err := statecache.Open(cfg); !errors.Is(err, statecache.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestRecorderPersistsNewestSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := testsupport.MustOpenCache(t, cfg)

	rec := statecache.NewRecorder(cache, nil)
	for v := uint64(1); v <= 5; v++ {
		snap := sampleSnapshot(v)
		snap.Storyboard.Mood = "take " + string(rune('0'+v))
		rec.Observe(snap)
	}
	rec.Close()

	got, err := cache.Load(context.Background(), "sb-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != 5 || got.Storyboard.Mood != "take 5" {
		t.Fatalf("expected newest snapshot, got version %d mood %q", got.Version, got.Storyboard.Mood)
	}
}
