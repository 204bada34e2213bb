package config

const (
	defaultAPIBaseURL               = "http://127.0.0.1:8080/api"
	defaultAPITimeoutSeconds        = 30
	defaultAPIRetryAttempts         = 3
	defaultAPIRetryDelayMillis      = 500
	defaultReconnectBackoffSeconds  = 5
	defaultMaxReconnectFailures     = 3
	defaultPushGracePeriodSeconds   = 10
	defaultPollIntervalSeconds      = 5
	defaultPollMaxAttempts          = 60
	defaultContentPolicyRetries     = 2
	defaultContentPolicyDelayMillis = 2000
	defaultPendingUpdateTTLSeconds  = 10
	defaultStateDir                 = "~/.local/share/reel"
	defaultLogDir                   = "~/.local/share/reel/logs"
	defaultNotifyRequestTimeout     = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultConfigPath               = "~/.config/reel/config.toml"
	projectConfigName               = "reel.toml"
	envAPIToken                     = "REEL_API_TOKEN"
	envAPIBaseURL                   = "REEL_API_BASE_URL"
	envNtfyTopic                    = "REEL_NTFY_TOPIC"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        defaultAPIBaseURL,
			TimeoutSeconds: defaultAPITimeoutSeconds,
			RetryAttempts:  defaultAPIRetryAttempts,
			RetryDelayMS:   defaultAPIRetryDelayMillis,
		},
		Push: Push{
			Enabled:                 true,
			ReconnectBackoffSeconds: defaultReconnectBackoffSeconds,
			MaxReconnectFailures:    defaultMaxReconnectFailures,
			GracePeriodSeconds:      defaultPushGracePeriodSeconds,
		},
		Polling: Polling{
			IntervalSeconds: defaultPollIntervalSeconds,
			MaxAttempts:     defaultPollMaxAttempts,
		},
		Generation: Generation{
			ContentPolicyRetries:      defaultContentPolicyRetries,
			ContentPolicyRetryDelayMS: defaultContentPolicyDelayMillis,
			PendingUpdateTTLSeconds:   defaultPendingUpdateTTLSeconds,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Video:          true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
