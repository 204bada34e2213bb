package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"reel/internal/config"
	"reel/internal/logging"
	"reel/internal/services"
)

const (
	defaultHTTPTimeout   = 30 * time.Second
	defaultRetryAttempts = 3
	defaultRetryDelay    = 500 * time.Millisecond
	maxRetryDelay        = 10 * time.Second
	maxErrorBody         = 512
	requestIDHeader      = "X-Request-ID"
)

// Config captures the settings required to reach the backend.
type Config struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
	RetryAttempts  int
	RetryDelay     time.Duration
}

// Client talks to the generation backend's REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	sleeper    func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// New constructs a client.
func New(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "jobclient")
	return client
}

// NewFromConfig builds a client from the application configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	opts = append([]Option{WithLogger(logger)}, opts...)
	return New(Config{
		BaseURL:        cfg.API.BaseURL,
		Token:          cfg.API.Token,
		TimeoutSeconds: cfg.API.TimeoutSeconds,
		RetryAttempts:  cfg.API.RetryAttempts,
		RetryDelay:     cfg.APIRetryDelay(),
	}, opts...)
}

// BaseURL returns the normalized backend root.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// EventsRequest builds the long-lived server-sent events request for a
// storyboard. The caller owns the response.
func (c *Client) EventsRequest(ctx context.Context, storyboardID string) (*http.Request, error) {
	endpoint, err := c.endpoint("storyboards", storyboardID, "events")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(ctx, req)
	return req, nil
}

func (c *Client) endpoint(segments ...string) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", services.Wrap(services.ErrValidation, "jobclient", "build url", "api base_url is not configured", nil)
	}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, segments...)
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	return endpoint, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set(requestIDHeader, requestID)
}

// do sends method to the endpoint built from segments, retrying transient
// failures, and decodes a successful JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, op, method string, body any, out any, segments ...string) error {
	endpoint, err := c.endpoint(segments...)
	if err != nil {
		return err
	}
	var encoded []byte
	if body != nil {
		encoded, err = json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrValidation, "jobclient", op, "encode request", err)
		}
	}
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}

	attempts := c.cfg.RetryAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		payload, err := c.sendOnce(ctx, method, endpoint, encoded)
		if err == nil {
			if out == nil || len(bytes.TrimSpace(payload)) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return services.Wrap(services.ErrExternal, "jobclient", op, "decode response", err)
			}
			return nil
		}
		lastErr = err
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			break
		}
		logging.WithContext(ctx, c.logger).Warn("backend request failed; retrying",
			logging.String("operation", op),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "transient backend failure"),
		)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	return classify(op, lastErr)
}

func (c *Client) sendOnce(ctx context.Context, method, endpoint string, encoded []byte) ([]byte, error) {
	var reader io.Reader
	if encoded != nil {
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(ctx, req)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	logging.WithContext(ctx, c.logger).Debug("backend request",
		logging.String("method", method),
		logging.String("url", endpoint),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return payload, newStatusError(resp.StatusCode, payload, retryAfter)
	}
	return payload, nil
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if !statusErr.Transient() {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return min(statusErr.RetryAfter, maxRetryDelay), true
		}
		return c.cfg.RetryDelay, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return c.cfg.RetryDelay, true
	}
	return 0, false
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
