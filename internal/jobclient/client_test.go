package jobclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"reel/internal/failure"
	"reel/internal/jobclient"
	"reel/internal/scene"
	"reel/internal/services"
	"reel/internal/testsupport"
)

func newClient(t *testing.T, b *testsupport.Backend) *jobclient.Client {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(b))
	return jobclient.NewFromConfig(cfg, nil, jobclient.WithSleeper(func(time.Duration) {}))
}

func seeded(t *testing.T) (*testsupport.Backend, *jobclient.Client) {
	t.Helper()
	b := testsupport.NewBackend(t)
	b.Seed("sb-1",
		scene.Scene{ID: "a", Text: "harbor at dawn", DurationSeconds: 4},
		scene.Scene{ID: "b", Text: "gulls overhead", DurationSeconds: 5},
		scene.Scene{ID: "c", Text: "ferry departs", DurationSeconds: 6},
	)
	return b, newClient(t, b)
}

func TestInitializeStoryboard(t *testing.T) {
	b := testsupport.NewBackend(t)
	client := newClient(t, b)

	state, err := client.InitializeStoryboard(context.Background(), scene.Brief{Description: "coastal town", SceneCount: 2}, "calm")
	if err != nil {
		t.Fatalf("InitializeStoryboard: %v", err)
	}
	if state.Storyboard.ID == "" || len(state.Scenes) != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
	if len(state.Storyboard.SceneOrder) != 2 || state.Storyboard.Mood != "calm" {
		t.Fatalf("unexpected storyboard %+v", state.Storyboard)
	}
	for _, s := range state.Scenes {
		if s.Generation.Image != scene.StatusNone {
			t.Fatalf("expected normalized statuses, got %+v", s.Generation)
		}
	}
}

func TestInitializeRejectsEmptyBrief(t *testing.T) {
	b := testsupport.NewBackend(t)
	client := newClient(t, b)
	_, err := client.InitializeStoryboard(context.Background(), scene.Brief{}, "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if b.Count(testsupport.RouteInitialize) != 0 {
		t.Fatal("request should not reach backend")
	}
}

func TestGenerateImageReturnsSceneSnapshot(t *testing.T) {
	b, client := seeded(t)
	s, err := client.GenerateSceneImage(context.Background(), "sb-1", "b")
	if err != nil {
		t.Fatalf("GenerateSceneImage: %v", err)
	}
	if s.ID != "b" || s.Generation.Image != scene.StatusComplete || s.ImageURL == "" {
		t.Fatalf("unexpected scene %+v", s)
	}
	reqs := b.Requests()
	if len(reqs) != 1 || reqs[0].RequestID == "" {
		t.Fatalf("expected one request with correlation id, got %+v", reqs)
	}
}

func TestGenerateVideoReturnsTicket(t *testing.T) {
	b, client := seeded(t)
	if _, err := client.GenerateSceneImage(context.Background(), "sb-1", "a"); err != nil {
		t.Fatalf("image: %v", err)
	}
	ticket, err := client.GenerateSceneVideo(context.Background(), "sb-1", "a")
	if err != nil {
		t.Fatalf("GenerateSceneVideo: %v", err)
	}
	if !ticket.Accepted || ticket.JobID != b.JobID("sb-1", "a") {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestVideoWithoutImageIsValidationError(t *testing.T) {
	_, client := seeded(t)
	_, err := client.GenerateSceneVideo(context.Background(), "sb-1", "a")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
	if failure.Classify(err) != failure.KindFatal {
		t.Fatalf("expected fatal classification, got %s", failure.Classify(err))
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	b, client := seeded(t)
	b.FailNext(testsupport.RouteText, http.StatusServiceUnavailable, "", "busy")
	b.FailNext(testsupport.RouteText, http.StatusBadGateway, "", "busy")

	s, err := client.GenerateSceneText(context.Background(), "sb-1", "a")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !strings.Contains(s.Text, "rewritten") {
		t.Fatalf("unexpected text %q", s.Text)
	}
	if got := b.Count(testsupport.RouteText); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestTransientRetryIsBounded(t *testing.T) {
	b, client := seeded(t)
	for range 5 {
		b.FailNext(testsupport.RouteImage, http.StatusInternalServerError, "", "down")
	}
	_, err := client.GenerateSceneImage(context.Background(), "sb-1", "a")
	if failure.Classify(err) != failure.KindTransient {
		t.Fatalf("expected transient classification, got %v", err)
	}
	if got := b.Count(testsupport.RouteImage); got != 3 {
		t.Fatalf("expected retry budget of 3 attempts, got %d", got)
	}
}

func TestContentPolicyIsNotRetried(t *testing.T) {
	b, client := seeded(t)
	if _, err := client.GenerateSceneImage(context.Background(), "sb-1", "a"); err != nil {
		t.Fatalf("image: %v", err)
	}
	b.FailNext(testsupport.RouteRegenerateVideo, http.StatusUnprocessableEntity, failure.CodeContentPolicy, "refused")

	_, err := client.RegenerateVideo(context.Background(), "sb-1", "a")
	if !errors.Is(err, services.ErrContentPolicy) {
		t.Fatalf("expected content policy marker, got %v", err)
	}
	if got := b.Count(testsupport.RouteRegenerateVideo); got != 1 {
		t.Fatalf("content policy failures must not be retried by the client, got %d calls", got)
	}
}

func TestNotFoundMarker(t *testing.T) {
	_, client := seeded(t)
	_, err := client.GetSceneStatus(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStructuralCalls(t *testing.T) {
	b, client := seeded(t)
	ctx := context.Background()

	state, err := client.AddScene(ctx, "sb-1", 1)
	if err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	if len(state.Storyboard.SceneOrder) != 4 || state.Storyboard.SceneOrder[0] != "a" {
		t.Fatalf("unexpected order %v", state.Storyboard.SceneOrder)
	}
	added := state.Storyboard.SceneOrder[1]

	state, err = client.RemoveScene(ctx, "sb-1", added)
	if err != nil {
		t.Fatalf("RemoveScene: %v", err)
	}
	if !scene.SameOrder(state.Storyboard.SceneOrder, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected order after remove %v", state.Storyboard.SceneOrder)
	}

	state, err = client.ReorderScenes(ctx, "sb-1", []string{"c", "a", "b"})
	if err != nil {
		t.Fatalf("ReorderScenes: %v", err)
	}
	if !scene.SameOrder(b.Order("sb-1"), []string{"c", "a", "b"}) || !scene.SameOrder(state.Storyboard.SceneOrder, []string{"c", "a", "b"}) {
		t.Fatalf("reorder not applied: %v", state.Storyboard.SceneOrder)
	}
}

func TestPatchAndDuration(t *testing.T) {
	_, client := seeded(t)
	ctx := context.Background()

	s, err := client.PatchScene(ctx, "sb-1", "a", scene.AssetPatch(scene.AssetBrand, "logo-1"))
	if err != nil {
		t.Fatalf("PatchScene: %v", err)
	}
	if s.BrandAssetID != "logo-1" {
		t.Fatalf("expected brand asset, got %+v", s)
	}
	s, err = client.UpdateSceneDuration(ctx, "sb-1", "a", 7.5)
	if err != nil {
		t.Fatalf("UpdateSceneDuration: %v", err)
	}
	if s.DurationSeconds != 7.5 {
		t.Fatalf("unexpected duration %v", s.DurationSeconds)
	}
	if _, err := client.UpdateSceneDuration(ctx, "sb-1", "a", 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero duration, got %v", err)
	}
}

func TestRetryAfterHeaderIsHonored(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"sceneId":"a","phase":"image","generationStatus":{"image":"complete","video":"none"}}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := jobclient.New(jobclient.Config{BaseURL: server.URL, RetryDelay: time.Millisecond},
		jobclient.WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	report, err := client.GetSceneStatus(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetSceneStatus: %v", err)
	}
	if report.Generation.Image != scene.StatusComplete {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("expected Retry-After delay, got %v", slept)
	}
}

func TestEventsRequestCarriesAuth(t *testing.T) {
	b, client := seeded(t)
	req, err := client.EventsRequest(context.Background(), "sb-1")
	if err != nil {
		t.Fatalf("EventsRequest: %v", err)
	}
	if req.Header.Get("Authorization") != "Bearer "+b.Token {
		t.Fatalf("missing auth header: %v", req.Header)
	}
	if !strings.HasSuffix(req.URL.Path, "/storyboards/sb-1/events") {
		t.Fatalf("unexpected path %s", req.URL.Path)
	}
}
