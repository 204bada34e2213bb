package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"reel/internal/logging"
	"reel/internal/reconcile"
	"reel/internal/scene"
	"reel/internal/textutil"
)

const (
	watcherQueueSize = 32
	labelTextLimit   = 40
)

type message struct {
	event   Event
	payload Payload
}

// Watcher turns store snapshots into notifications. It remembers the last
// status of every scene and publishes only on transitions into a terminal
// state, so replayed snapshots never notify twice. Delivery happens on a
// background goroutine.
type Watcher struct {
	svc    Service
	logger *slog.Logger

	mu        sync.Mutex
	last      map[string]scene.GenerationStatus
	boardID   string
	ready     bool
	fallback  bool
	seenFirst bool
	closed    bool

	queue chan message
	done  chan struct{}
	once  sync.Once
}

// NewWatcher starts a watcher publishing through svc.
func NewWatcher(svc Service, logger *slog.Logger) *Watcher {
	w := &Watcher{
		svc:    svc,
		logger: logging.NewComponentLogger(logger, "notifications"),
		last:   make(map[string]scene.GenerationStatus),
		queue:  make(chan message, watcherQueueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Observe is a reconcile.Store observer.
func (w *Watcher) Observe(snap reconcile.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if !w.seenFirst || snap.Change.Kind == reconcile.ChangeLoad || snap.Storyboard.ID != w.boardID {
		w.baselineLocked(snap)
		return
	}

	next := make(map[string]scene.GenerationStatus, len(snap.Scenes))
	for i, sc := range snap.Scenes {
		next[sc.ID] = sc.Generation
		prev, known := w.last[sc.ID]
		if !known || sc.Temporary {
			continue
		}
		fields := Payload{
			"storyboardId": snap.Storyboard.ID,
			"sceneId":      sc.ID,
			"position":     strconv.Itoa(i + 1),
			"text":         textutil.Truncate(sc.Text, labelTextLimit),
		}
		switch {
		case prev.Video != scene.StatusComplete && sc.Generation.Video == scene.StatusComplete:
			w.enqueueLocked(EventVideoCompleted, fields)
		case prev.Video != scene.StatusError && sc.Generation.Video == scene.StatusError:
			fields["phase"] = "Video"
			fields["error"] = sc.ErrorMessage
			w.enqueueLocked(EventVideoFailed, fields)
		case prev.Image != scene.StatusError && sc.Generation.Image == scene.StatusError:
			fields["phase"] = "Image"
			fields["error"] = sc.ErrorMessage
			w.enqueueLocked(EventSceneFailed, fields)
		case prev.Text != scene.StatusError && sc.Generation.Text == scene.StatusError:
			fields["phase"] = "Text"
			fields["error"] = sc.ErrorMessage
			w.enqueueLocked(EventSceneFailed, fields)
		}
	}
	w.last = next

	ready := allVideosComplete(snap)
	if ready && !w.ready {
		w.enqueueLocked(EventStoryboardReady, Payload{
			"storyboardId": snap.Storyboard.ID,
			"scenes":       strconv.Itoa(len(snap.Scenes)),
		})
	}
	w.ready = ready

	fallback := snap.Channel == reconcile.ChannelPolling
	if fallback && !w.fallback {
		w.enqueueLocked(EventPushFallback, Payload{"storyboardId": snap.Storyboard.ID})
	}
	w.fallback = fallback
}

func (w *Watcher) baselineLocked(snap reconcile.Snapshot) {
	w.seenFirst = true
	w.boardID = snap.Storyboard.ID
	w.last = make(map[string]scene.GenerationStatus, len(snap.Scenes))
	for _, sc := range snap.Scenes {
		w.last[sc.ID] = sc.Generation
	}
	w.ready = allVideosComplete(snap)
	w.fallback = snap.Channel == reconcile.ChannelPolling
}

func allVideosComplete(snap reconcile.Snapshot) bool {
	if len(snap.Scenes) == 0 {
		return false
	}
	for _, sc := range snap.Scenes {
		if sc.Generation.Video != scene.StatusComplete {
			return false
		}
	}
	return true
}

func (w *Watcher) enqueueLocked(event Event, payload Payload) {
	select {
	case w.queue <- message{event: event, payload: payload}:
	default:
		w.logger.Warn("notification dropped; queue full",
			logging.String(logging.FieldEventType, "notification_dropped"),
			logging.String("event", string(event)),
		)
	}
}

// Close delivers queued notifications and stops the watcher.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	for msg := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := w.svc.Publish(ctx, msg.event, msg.payload); err != nil {
			w.logger.Warn("notification failed",
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.String("event", string(msg.event)),
				logging.String(logging.FieldStoryboardID, msg.payload["storyboardId"]),
				logging.Error(err),
			)
		}
		cancel()
	}
}
