package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.RetryAttempts < 1 {
		return errors.New("api.retry_attempts must be >= 1")
	}
	if c.API.RetryDelayMS < 0 {
		return errors.New("api.retry_delay_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateTiming() error {
	if err := ensurePositiveMap(map[string]int{
		"push.reconnect_backoff_seconds": c.Push.ReconnectBackoffSeconds,
		"push.max_reconnect_failures":    c.Push.MaxReconnectFailures,
		"push.grace_period_seconds":      c.Push.GracePeriodSeconds,
		"polling.interval_seconds":       c.Polling.IntervalSeconds,
		"polling.max_attempts":           c.Polling.MaxAttempts,
		"notifications.request_timeout":  c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateGeneration() error {
	if c.Generation.ContentPolicyRetries < 0 {
		return errors.New("generation.content_policy_retries must be >= 0")
	}
	if c.Generation.ContentPolicyRetryDelayMS < 0 {
		return errors.New("generation.content_policy_retry_delay_ms must be >= 0")
	}
	if c.Generation.PendingUpdateTTLSeconds <= 0 {
		return errors.New("generation.pending_update_ttl_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
