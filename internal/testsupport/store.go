package testsupport

import (
	"testing"

	"reel/internal/config"
	"reel/internal/statecache"
)

// MustOpenCache opens a statecache.Store for tests and registers cleanup.
func MustOpenCache(t testing.TB, cfg *config.Config) *statecache.Store {
	t.Helper()

	store, err := statecache.Open(cfg)
	if err != nil {
		t.Fatalf("statecache.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
