package pushchannel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"reel/internal/failure"
	"reel/internal/logging"
	"reel/internal/services"
)

// RequestBuilder produces the authenticated stream request for a storyboard.
type RequestBuilder interface {
	EventsRequest(ctx context.Context, storyboardID string) (*http.Request, error)
}

// Adapter holds at most one live subscription.
type Adapter struct {
	builder    RequestBuilder
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	current *subscription
}

type subscription struct {
	storyboardID string
	cancel       context.CancelFunc
	done         chan struct{}
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the streaming HTTP client. It must not set an
// overall timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithClock overrides the event receive timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// New constructs an adapter.
func New(builder RequestBuilder, opts ...Option) *Adapter {
	a := &Adapter{
		builder:    builder,
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.NewComponentLogger(a.logger, "pushchannel")
	return a
}

// Connect subscribes to a storyboard's events. Connecting to the storyboard
// that is already live is a no-op; connecting to another one tears the old
// subscription down first. Connect returns once the stream is established;
// events and the terminal transport error are then delivered from a reader
// goroutine, one at a time. Callbacks must not call back into the adapter
// synchronously.
func (a *Adapter) Connect(ctx context.Context, storyboardID string, onEvent func(Event), onError func(error)) error {
	if storyboardID == "" {
		return services.Wrap(services.ErrValidation, "pushchannel", "connect", "storyboard id required", nil)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		if a.current.storyboardID == storyboardID {
			select {
			case <-a.current.done:
			default:
				return nil
			}
		}
		a.stopLocked()
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	streamCtx = services.WithStoryboardID(streamCtx, storyboardID)
	req, err := a.builder.EventsRequest(streamCtx, storyboardID)
	if err != nil {
		cancel()
		return &failure.ChannelError{StoryboardID: storyboardID, Err: err}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		cancel()
		return &failure.ChannelError{StoryboardID: storyboardID, Err: services.Wrap(services.ErrTransient, "pushchannel", "connect", "", err)}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return &failure.ChannelError{StoryboardID: storyboardID, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	sub := &subscription{storyboardID: storyboardID, cancel: cancel, done: make(chan struct{})}
	a.current = sub
	logger := logging.WithContext(streamCtx, a.logger)
	logger.Debug("push channel connected")

	go a.run(streamCtx, sub, resp.Body, logger, onEvent, onError)
	return nil
}

func (a *Adapter) run(ctx context.Context, sub *subscription, body io.ReadCloser, logger *slog.Logger, onEvent func(Event), onError func(error)) {
	defer close(sub.done)
	defer body.Close()

	err := readFrames(body, func(f frame) {
		if ctx.Err() != nil {
			return
		}
		if f.oversized {
			logger.Warn("dropping oversized push event",
				logging.String(logging.FieldEventType, "oversized_event"),
				logging.String("event", f.name),
				logging.Int("limit_bytes", maxFrameBytes),
			)
			return
		}
		event, err := Decode(f.name, f.data, a.now())
		if err != nil {
			logger.Warn("dropping malformed push event",
				logging.String(logging.FieldEventType, "malformed_event"),
				logging.String("event", f.name),
				logging.Error(err),
			)
			return
		}
		if onEvent != nil {
			onEvent(event)
		}
	})

	if ctx.Err() != nil {
		return
	}
	sub.cancel()

	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	logger.Debug("push channel closed", logging.Error(err))
	if onError != nil {
		onError(&failure.ChannelError{StoryboardID: sub.storyboardID, Err: err})
	}
}

// Disconnect closes the live subscription, if any. A callback already in
// progress may still complete; none starts afterwards.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Adapter) stopLocked() {
	if a.current == nil {
		return
	}
	a.current.cancel()
	a.current = nil
}

// Connected returns the live storyboard id.
func (a *Adapter) Connected() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return "", false
	}
	select {
	case <-a.current.done:
		return "", false
	default:
		return a.current.storyboardID, true
	}
}
