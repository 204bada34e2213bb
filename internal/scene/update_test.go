package scene_test

import (
	"testing"

	"reel/internal/scene"
)

func baseScene() scene.Scene {
	s := scene.Scene{ID: "s1", Text: "a lighthouse at dusk", DurationSeconds: 5}
	s.Normalize()
	return s
}

func TestNormalizeFillsStatuses(t *testing.T) {
	s := baseScene()
	if s.Phase != scene.PhaseText {
		t.Fatalf("expected text phase, got %s", s.Phase)
	}
	if s.Generation.Text != scene.StatusComplete || s.Generation.Image != scene.StatusNone || s.Generation.Video != scene.StatusNone {
		t.Fatalf("unexpected statuses: %+v", s.Generation)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("normalized scene should validate: %v", err)
	}
}

func TestValidateRejectsVideoBeforeImage(t *testing.T) {
	s := baseScene()
	s.Generation.Video = scene.StatusGenerating
	if err := s.Validate(); err == nil {
		t.Fatal("expected invariant violation")
	}
	s.Generation.Image = scene.StatusComplete
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid scene once image complete: %v", err)
	}
}

func TestApplyToNeverLowersPhase(t *testing.T) {
	s := baseScene()
	s.Phase = scene.PhaseVideo
	next, _ := scene.Update{SceneID: "s1", Phase: scene.PhaseImage}.ApplyTo(s)
	if next.Phase != scene.PhaseVideo {
		t.Fatalf("phase moved backwards to %s", next.Phase)
	}
}

func TestApplyToIsIdempotentForTerminalUpdates(t *testing.T) {
	s := baseScene()
	s.Generation.Image = scene.StatusComplete
	s.Generation.Video = scene.StatusGenerating
	u := scene.Update{SceneID: "s1", VideoStatus: scene.StatusComplete, VideoURL: "https://cdn/v1.mp4", SourceDuration: 6}

	once, changed := u.ApplyTo(s)
	if !changed {
		t.Fatal("expected first application to change the scene")
	}
	twice, changed := u.ApplyTo(once)
	if changed {
		t.Fatal("expected second application to be a no-op")
	}
	if !scene.Equal(once, twice) {
		t.Fatalf("states diverged: %+v vs %+v", once, twice)
	}
	if once.Phase != scene.PhaseVideo {
		t.Fatalf("expected video phase after completion, got %s", once.Phase)
	}
}

func TestApplyToClearsErrorAndTrim(t *testing.T) {
	s := baseScene()
	s.Generation.Image = scene.StatusComplete
	s.Generation.Video = scene.StatusError
	s.ErrorMessage = "previous failure"
	s.VideoURL = "https://cdn/old.mp4"
	s.Trim = &scene.Trim{Start: 1, End: 3}

	next, _ := scene.Update{SceneID: "s1", VideoStatus: scene.StatusComplete, VideoURL: "https://cdn/new.mp4"}.ApplyTo(s)
	if next.ErrorMessage != "" {
		t.Fatalf("expected error cleared, got %q", next.ErrorMessage)
	}
	if next.Trim != nil {
		t.Fatalf("expected trim invalidated by new video, got %+v", next.Trim)
	}
	if s.Trim == nil {
		t.Fatal("ApplyTo must not mutate its input")
	}
}

func TestApplyToRecordsError(t *testing.T) {
	s := baseScene()
	next, changed := scene.Update{SceneID: "s1", ImageStatus: scene.StatusError, Error: "model unavailable"}.ApplyTo(s)
	if !changed || next.ErrorMessage != "model unavailable" {
		t.Fatalf("expected error recorded, got %+v", next)
	}
}

func TestUpdateValidate(t *testing.T) {
	cases := []struct {
		name string
		u    scene.Update
		ok   bool
	}{
		{"missing id", scene.Update{}, false},
		{"bad phase", scene.Update{SceneID: "x", Phase: "audio"}, false},
		{"bad status", scene.Update{SceneID: "x", VideoStatus: "done"}, false},
		{"ok", scene.Update{SceneID: "x", VideoStatus: scene.StatusComplete}, true},
	}
	for _, tc := range cases {
		err := tc.u.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: unexpected result %v", tc.name, err)
		}
	}
}

func TestTrimCheck(t *testing.T) {
	if err := (scene.Trim{Start: 0, End: 4}).Check(5); err != nil {
		t.Fatalf("expected valid trim: %v", err)
	}
	if err := (scene.Trim{Start: 0, End: 6}).Check(5); err == nil {
		t.Fatal("expected trim beyond source to fail")
	}
	if err := (scene.Trim{Start: 3, End: 2}).Check(5); err == nil {
		t.Fatal("expected inverted trim to fail")
	}
}

func TestStatusReportUpdate(t *testing.T) {
	report := scene.StatusReport{
		SceneID:    "s1",
		Phase:      scene.PhaseVideo,
		Generation: scene.GenerationStatus{Image: scene.StatusComplete, Video: scene.StatusComplete},
		VideoURL:   "https://cdn/v.mp4",
	}
	if !report.Terminal() {
		t.Fatal("expected terminal report")
	}
	u := report.Update("")
	if u.SceneID != "s1" || u.Source != scene.SourcePoll || u.VideoStatus != scene.StatusComplete {
		t.Fatalf("unexpected update: %+v", u)
	}
}
