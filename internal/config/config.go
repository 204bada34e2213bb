package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"reel/internal/textutil"
)

//go:embed sample_config.toml
var sampleConfig string

// API describes the generation backend the job client talks to.
type API struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
	RetryDelayMS   int    `toml:"retry_delay_ms"`
}

// Push contains server-sent event channel settings.
type Push struct {
	Enabled                 bool `toml:"enabled"`
	ReconnectBackoffSeconds int  `toml:"reconnect_backoff_seconds"`
	MaxReconnectFailures    int  `toml:"max_reconnect_failures"`
	GracePeriodSeconds      int  `toml:"grace_period_seconds"`
}

// Polling contains the per-scene status polling fallback settings.
type Polling struct {
	IntervalSeconds int `toml:"interval_seconds"`
	MaxAttempts     int `toml:"max_attempts"`
}

// Generation tunes retry and reconciliation behaviour for scene generation.
type Generation struct {
	// ContentPolicyRetries is the number of additional automatic attempts
	// made when a video regeneration is refused on content-policy grounds.
	ContentPolicyRetries      int `toml:"content_policy_retries"`
	ContentPolicyRetryDelayMS int `toml:"content_policy_retry_delay_ms"`
	// PendingUpdateTTLSeconds bounds how long updates for not-yet-known
	// scene IDs are buffered before they are dropped.
	PendingUpdateTTLSeconds int `toml:"pending_update_ttl_seconds"`
}

// Paths contains local directories.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Video          bool   `toml:"video"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reel.
//
// Configuration sections by subsystem:
//   - API: generation backend endpoint, credentials and transient retry budget
//   - Push: server-sent event channel reconnect timing
//   - Polling: per-scene status polling fallback cadence
//   - Generation: content-policy retries and pending update buffering
//   - Paths: state cache and log directories
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	API           API           `toml:"api"`
	Push          Push          `toml:"push"`
	Polling       Polling       `toml:"polling"`
	Generation    Generation    `toml:"generation"`
	Paths         Paths         `toml:"paths"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StateDBPath returns the SQLite state cache location.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// LockPath returns the lock file guarding the live subscription for a storyboard.
func (c *Config) LockPath(storyboardID string) string {
	safe := textutil.SanitizeToken(storyboardID)
	return filepath.Join(c.Paths.StateDir, "locks", "watch-"+safe+".lock")
}

// APITimeout returns the per-request HTTP timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// APIRetryDelay returns the base delay between transient retries.
func (c *Config) APIRetryDelay() time.Duration {
	return time.Duration(c.API.RetryDelayMS) * time.Millisecond
}

// ReconnectBackoff returns the fixed delay before a push channel reconnect.
func (c *Config) ReconnectBackoff() time.Duration {
	return time.Duration(c.Push.ReconnectBackoffSeconds) * time.Second
}

// PushGracePeriod returns how long a generating scene may go without push
// updates before polling starts for it.
func (c *Config) PushGracePeriod() time.Duration {
	return time.Duration(c.Push.GracePeriodSeconds) * time.Second
}

// PollInterval returns the fixed status polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

// ContentPolicyRetryDelay returns the wait between content-policy retries.
func (c *Config) ContentPolicyRetryDelay() time.Duration {
	return time.Duration(c.Generation.ContentPolicyRetryDelayMS) * time.Millisecond
}

// PendingUpdateTTL returns how long unknown-scene updates stay buffered.
func (c *Config) PendingUpdateTTL() time.Duration {
	return time.Duration(c.Generation.PendingUpdateTTLSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
