package testsupport

import (
	"path/filepath"
	"testing"

	"reel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Timings are shortened so store tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.API.Token = "test-token"
	cfgVal.API.BaseURL = "http://127.0.0.1:0"
	cfgVal.API.RetryDelayMS = 1
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Generation.ContentPolicyRetryDelayMS = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend points the API section at a fake backend.
func WithBackend(b *Backend) ConfigOption {
	return func(cb *configBuilder) {
		cb.cfg.API.BaseURL = b.URL()
		cb.cfg.API.Token = b.Token
	}
}

// WithPushDisabled turns off the push channel so only polling runs.
func WithPushDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Push.Enabled = false
	}
}

// WithNtfyTopic sets the notification topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}
