package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"reel/internal/config"
	"reel/internal/scene"
	"reel/internal/testsupport"
)

type cliTestEnv struct {
	backend    *testsupport.Backend
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	backend := testsupport.NewBackend(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithBackend(backend)}, opts...)...)
	cfg.Logging.Level = "error"

	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{backend: backend, cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, error) {
	t.Helper()
	return runCLIContext(context.Background(), args, configPath)
}

func runCLIContext(ctx context.Context, args []string, configPath string) (string, error) {
	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func seedScene(id, text string) scene.Scene {
	return scene.Scene{
		ID:              id,
		Text:            text,
		DurationSeconds: 5,
		Phase:           scene.PhaseText,
		Generation:      scene.GenerationStatus{Text: scene.StatusComplete},
	}
}

func imageScene(id, text string) scene.Scene {
	sc := seedScene(id, text)
	sc.Phase = scene.PhaseImage
	sc.Generation.Image = scene.StatusComplete
	sc.ImageURL = "https://cdn.test/" + id + ".png"
	return sc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCLIStoryboardCreateAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, []string{"storyboard", "create", "--description", "Harbor at dawn", "--scenes", "2", "--mood", "calm"}, env.configPath)
	if err != nil {
		t.Fatalf("storyboard create: %v", err)
	}
	if !strings.Contains(out, "Created storyboard sb-1") {
		t.Fatalf("unexpected create output: %q", out)
	}
	if !strings.Contains(out, "scene-2") || !strings.Contains(out, "scene-3") {
		t.Fatalf("expected both scenes in output: %q", out)
	}

	out, err = runCLI(t, []string{"storyboard", "show", "sb-1"}, env.configPath)
	if err != nil {
		t.Fatalf("storyboard show: %v", err)
	}
	if !strings.Contains(out, "Storyboard sb-1 (calm)") || !strings.Contains(out, "Harbor at dawn (part 1)") {
		t.Fatalf("unexpected show output: %q", out)
	}

	if _, err := runCLI(t, []string{"storyboard", "create"}, env.configPath); err == nil {
		t.Fatal("expected create without description to fail")
	}
}

func TestCLISceneEdits(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.Seed("sb-1", seedScene("a", "harbor at dawn"), seedScene("b", "gulls overhead"))

	out, err := runCLI(t, []string{"scene", "approve-text", "sb-1", "a"}, env.configPath)
	if err != nil {
		t.Fatalf("approve-text: %v", err)
	}
	if !strings.Contains(out, "image=Complete") {
		t.Fatalf("expected completed image, got %q", out)
	}

	out, err = runCLI(t, []string{"scene", "edit-text", "sb-1", "b", "gulls", "circle", "the", "mast"}, env.configPath)
	if err != nil {
		t.Fatalf("edit-text: %v", err)
	}
	if sc, _ := env.backend.Scene("sb-1", "b"); sc.Text != "gulls circle the mast" {
		t.Fatalf("expected backend text updated, got %q", sc.Text)
	}

	if _, err := runCLI(t, []string{"scene", "duration", "sb-1", "b", "7.5"}, env.configPath); err != nil {
		t.Fatalf("duration: %v", err)
	}
	if sc, _ := env.backend.Scene("sb-1", "b"); sc.DurationSeconds != 7.5 {
		t.Fatalf("expected duration 7.5, got %v", sc.DurationSeconds)
	}
	if _, err := runCLI(t, []string{"scene", "duration", "sb-1", "b", "soon"}, env.configPath); err == nil {
		t.Fatal("expected invalid duration to fail")
	}

	out, err = runCLI(t, []string{"scene", "regenerate-text", "sb-1", "b"}, env.configPath)
	if err != nil {
		t.Fatalf("regenerate-text: %v", err)
	}
	if !strings.Contains(out, "gulls circle the mast (rewritten)") || !strings.Contains(out, "Similarity to previous text:") {
		t.Fatalf("unexpected regenerate-text output: %q", out)
	}

	if _, err := runCLI(t, []string{"scene", "approve-text", "sb-1", "missing"}, env.configPath); err == nil {
		t.Fatal("expected unknown scene to fail")
	}
}

func TestCLIAssetCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.Seed("sb-1", imageScene("a", "harbor at dawn"))

	if _, err := runCLI(t, []string{"scene", "asset", "sb-1", "a", "brand"}, env.configPath); err == nil {
		t.Fatal("expected missing asset id to fail")
	}
	if _, err := runCLI(t, []string{"scene", "asset", "sb-1", "a", "logo", "x"}, env.configPath); err == nil {
		t.Fatal("expected unknown kind to fail")
	}

	out, err := runCLI(t, []string{"scene", "asset", "sb-1", "a", "brand", "brand-7"}, env.configPath)
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if !strings.Contains(out, "regenerate the image") {
		t.Fatalf("expected image invalidation notice, got %q", out)
	}
	if sc, _ := env.backend.Scene("sb-1", "a"); sc.BrandAssetID != "brand-7" {
		t.Fatalf("expected brand asset persisted, got %q", sc.BrandAssetID)
	}

	if _, err := runCLI(t, []string{"scene", "asset", "--clear", "sb-1", "a", "brand"}, env.configPath); err != nil {
		t.Fatalf("asset --clear: %v", err)
	}
	if sc, _ := env.backend.Scene("sb-1", "a"); sc.BrandAssetID != "" {
		t.Fatalf("expected brand asset cleared, got %q", sc.BrandAssetID)
	}
}

func TestCLIStructuralCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.Seed("sb-1", seedScene("a", "harbor at dawn"), seedScene("b", "gulls overhead"))

	out, err := runCLI(t, []string{"scene", "add", "sb-1", "--position", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("scene add: %v", err)
	}
	if !strings.Contains(out, "Added scene scene-1") {
		t.Fatalf("unexpected add output: %q", out)
	}
	order := env.backend.Order("sb-1")
	if len(order) != 3 || order[0] != "scene-1" {
		t.Fatalf("expected new scene first, got %v", order)
	}

	if _, err := runCLI(t, []string{"scene", "reorder", "sb-1", "b", "a", "scene-1"}, env.configPath); err != nil {
		t.Fatalf("scene reorder: %v", err)
	}
	if got := env.backend.Order("sb-1"); strings.Join(got, ",") != "b,a,scene-1" {
		t.Fatalf("unexpected order after reorder: %v", got)
	}
	if _, err := runCLI(t, []string{"scene", "reorder", "sb-1", "b", "a"}, env.configPath); err == nil {
		t.Fatal("expected incomplete order to fail")
	}

	out, err = runCLI(t, []string{"scene", "remove", "sb-1", "a"}, env.configPath)
	if err != nil {
		t.Fatalf("scene remove: %v", err)
	}
	if !strings.Contains(out, "Removed scene a") {
		t.Fatalf("unexpected remove output: %q", out)
	}
	if got := env.backend.Order("sb-1"); strings.Join(got, ",") != "b,scene-1" {
		t.Fatalf("unexpected order after remove: %v", got)
	}
}

func TestCLIStatusReadsCache(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.Seed("sb-1", seedScene("a", "harbor at dawn"))

	out, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "No cached storyboards") {
		t.Fatalf("expected empty cache, got %q", out)
	}

	if _, err := runCLI(t, []string{"storyboard", "show", "sb-1"}, env.configPath); err != nil {
		t.Fatalf("storyboard show: %v", err)
	}
	env.backend.Close()

	out, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status after show: %v", err)
	}
	if !strings.Contains(out, "sb-1") {
		t.Fatalf("expected cached storyboard listed, got %q", out)
	}

	out, err = runCLI(t, []string{"status", "sb-1"}, env.configPath)
	if err != nil {
		t.Fatalf("status sb-1: %v", err)
	}
	if !strings.Contains(out, "harbor at dawn") {
		t.Fatalf("expected cached scene text, got %q", out)
	}

	if _, err := runCLI(t, []string{"status", "sb-9"}, env.configPath); err == nil {
		t.Fatal("expected uncached storyboard to fail")
	}
}

func TestCLIRegenerateVideoWaits(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.Seed("sb-1", imageScene("a", "harbor at dawn"))

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if env.backend.Subscribers("sb-1") > 0 && env.backend.JobID("sb-1", "a") != "" {
				env.backend.CompleteVideo("sb-1", "a", "https://cdn.test/a.mp4")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	out, err := runCLI(t, []string{"scene", "regenerate-video", "--wait", "--timeout", "5s", "sb-1", "a"}, env.configPath)
	if err != nil {
		t.Fatalf("regenerate-video --wait: %v", err)
	}
	if !strings.Contains(out, "video=Complete") {
		t.Fatalf("expected completed video, got %q", out)
	}
}

func TestCLIWatchExitsWhenGenerationSettles(t *testing.T) {
	env := setupCLITestEnv(t)
	generating := imageScene("a", "harbor at dawn")
	generating.Phase = scene.PhaseVideo
	generating.Generation.Video = scene.StatusGenerating
	env.backend.Seed("sb-1", generating, seedScene("b", "gulls overhead"))

	done := make(chan struct{})
	var out string
	var err error
	go func() {
		defer close(done)
		out, err = runCLI(t, []string{"watch", "sb-1"}, env.configPath)
	}()

	waitFor(t, "event subscriber", func() bool { return env.backend.Subscribers("sb-1") > 0 })
	env.backend.CompleteVideo("sb-1", "a", "https://cdn.test/a.mp4")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not exit after generation settled")
	}
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, "video=Generating") || !strings.Contains(out, "video=Complete") {
		t.Fatalf("expected generating and complete lines, got %q", out)
	}
	if !strings.Contains(out, "No scenes generating") {
		t.Fatalf("expected settle message, got %q", out)
	}
}

func TestCLIWatchRefusesSecondWatcher(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.Seed("sb-1", seedScene("a", "harbor at dawn"))

	lockPath := env.cfg.LockPath("sb-1")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	held := flock.New(lockPath)
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("take lock: ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	_, err := runCLI(t, []string{"watch", "sb-1"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "already being watched") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
}

func TestCLIConfigCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "reel", "config.toml")
	out, err := runCLI(t, []string{"config", "init", "--path", target}, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected init output: %q", out)
	}
	if _, err := runCLI(t, []string{"config", "init", "--path", target}, env.configPath); err == nil {
		t.Fatal("expected init without --overwrite to fail")
	}

	out, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, env.cfg.API.Token) || !strings.Contains(out, "********") {
		t.Fatalf("expected token masked, got %q", out)
	}

	out, err = runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output: %q", out)
	}
}

func TestCLITestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	if !strings.Contains(out, "Notifications are disabled") {
		t.Fatalf("unexpected output: %q", out)
	}
}
