package services_test

import (
	"errors"
	"strings"
	"testing"

	"reel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternal, "jobclient", "generate image", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"jobclient", "generate image", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestMarkerPrefersContentPolicy(t *testing.T) {
	err := services.Wrap(services.ErrContentPolicy, "jobclient", "regenerate video", "", nil)
	if got := services.Marker(err); got != services.ErrContentPolicy {
		t.Fatalf("expected content policy marker, got %v", got)
	}
	if got := services.Marker(errors.New("plain")); got != nil {
		t.Fatalf("expected no marker, got %v", got)
	}
}
