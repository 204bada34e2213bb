package reconcile

import (
	"log/slog"
	"time"

	"reel/internal/config"
)

// Options tunes a Store.
type Options struct {
	PushEnabled             bool
	ReconnectBackoff        time.Duration
	MaxReconnectFailures    int
	GracePeriod             time.Duration
	PollInterval            time.Duration
	PollMaxAttempts         int
	ContentPolicyRetries    int
	ContentPolicyRetryDelay time.Duration
	PendingUpdateTTL        time.Duration
	Logger                  *slog.Logger
	Now                     func() time.Time
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	cfg := config.Default()
	return OptionsFromConfig(&cfg)
}

// OptionsFromConfig converts the application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PushEnabled:             cfg.Push.Enabled,
		ReconnectBackoff:        cfg.ReconnectBackoff(),
		MaxReconnectFailures:    cfg.Push.MaxReconnectFailures,
		GracePeriod:             cfg.PushGracePeriod(),
		PollInterval:            cfg.PollInterval(),
		PollMaxAttempts:         cfg.Polling.MaxAttempts,
		ContentPolicyRetries:    cfg.Generation.ContentPolicyRetries,
		ContentPolicyRetryDelay: cfg.ContentPolicyRetryDelay(),
		PendingUpdateTTL:        cfg.PendingUpdateTTL(),
	}
}

func (o Options) normalized() Options {
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = 5 * time.Second
	}
	if o.MaxReconnectFailures <= 0 {
		o.MaxReconnectFailures = 3
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 10 * time.Second
	}
	if o.ContentPolicyRetries < 0 {
		o.ContentPolicyRetries = 0
	}
	if o.PendingUpdateTTL <= 0 {
		o.PendingUpdateTTL = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
