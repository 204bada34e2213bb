package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reel/internal/logging"
	"reel/internal/scene"
	"reel/internal/services"
)

const (
	defaultInterval    = 5 * time.Second
	defaultMaxAttempts = 60
)

// StatusFetcher reads the current status of a scene.
type StatusFetcher interface {
	GetSceneStatus(ctx context.Context, sceneID string) (scene.StatusReport, error)
}

// Sink receives poll results and reports whether the scene still needs
// polling.
type Sink func(scene.Update) (keepPolling bool)

// ExhaustedFunc is called when a loop spends its attempt budget while the
// scene is still generating. lastErr is the final fetch error, if any.
type ExhaustedFunc func(sceneID string, attempts int, lastErr error)

// Options configures an Engine.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Logger      *slog.Logger
	OnExhausted ExhaustedFunc
}

// Engine owns the running poll loops.
type Engine struct {
	fetcher StatusFetcher
	sink    Sink
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	loops  map[string]*loop
	closed bool
	wg     sync.WaitGroup
}

type loop struct {
	cancel context.CancelFunc
}

// New builds an engine that submits results to sink.
func New(fetcher StatusFetcher, sink Sink, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Engine{
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "poller"),
		loops:   make(map[string]*loop),
	}
}

// Start begins polling sceneID. It returns false when a loop is already
// running for the scene or the engine is closed.
func (e *Engine) Start(ctx context.Context, sceneID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if _, ok := e.loops[sceneID]; ok {
		return false
	}
	loopCtx, cancel := context.WithCancel(services.WithSceneID(context.WithoutCancel(ctx), sceneID))
	l := &loop{cancel: cancel}
	e.loops[sceneID] = l
	e.wg.Add(1)
	go e.run(loopCtx, sceneID, l)
	return true
}

// Stop ends the loop for sceneID, if any.
func (e *Engine) Stop(sceneID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.loops[sceneID]; ok {
		l.cancel()
		delete(e.loops, sceneID)
	}
}

// Active reports whether sceneID is being polled.
func (e *Engine) Active(sceneID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.loops[sceneID]
	return ok
}

// ActiveScenes returns the scenes currently being polled.
func (e *Engine) ActiveScenes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.loops))
	for id := range e.loops {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every loop and waits for them to exit. Start fails afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for id, l := range e.loops {
		l.cancel()
		delete(e.loops, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// StopAll cancels every loop but leaves the engine usable.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, l := range e.loops {
		l.cancel()
		delete(e.loops, id)
	}
}

func (e *Engine) run(ctx context.Context, sceneID string, l *loop) {
	defer e.wg.Done()
	defer e.release(sceneID, l)

	logger := logging.WithContext(ctx, e.logger)
	logger.Debug("status polling started",
		logging.Duration("interval", e.opts.Interval),
		logging.Int("max_attempts", e.opts.MaxAttempts),
	)

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report, err := e.fetcher.GetSceneStatus(ctx, sceneID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			lastErr = err
			logger.Debug("status poll failed", logging.Int("attempt", attempt), logging.Error(err))
			continue
		}
		lastErr = nil
		keep := e.sink(report.Update(sceneID))
		if !keep || report.Terminal() {
			logger.Debug("status polling finished", logging.Int("attempts", attempt))
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	logger.Warn("status polling gave up",
		logging.String(logging.FieldEventType, "poll_exhausted"),
		logging.Int("attempts", e.opts.MaxAttempts),
		logging.String(logging.FieldErrorHint, "retry the scene or reload the storyboard"),
	)
	e.release(sceneID, l)
	if e.opts.OnExhausted != nil {
		e.opts.OnExhausted(sceneID, e.opts.MaxAttempts, lastErr)
	}
}

func (e *Engine) release(sceneID string, l *loop) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.loops[sceneID]; ok && current == l {
		delete(e.loops, sceneID)
	}
	l.cancel()
}
