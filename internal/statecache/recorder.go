package statecache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reel/internal/logging"
	"reel/internal/reconcile"
)

// Recorder persists store snapshots in the background. Bursts of snapshots
// collapse into one write of the newest; the observer callback never blocks
// on the database.
type Recorder struct {
	cache  *Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending *reconcile.Snapshot
	saved   uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewRecorder starts a recorder writing to cache.
func NewRecorder(cache *Store, logger *slog.Logger) *Recorder {
	r := &Recorder{
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "statecache"),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe is a reconcile.Store observer.
func (r *Recorder) Observe(snap reconcile.Snapshot) {
	if snap.Storyboard.ID == "" {
		return
	}
	r.mu.Lock()
	if r.pending == nil || snap.Version > r.pending.Version {
		r.pending = &snap
	}
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close flushes the newest pending snapshot and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	snap := r.pending
	r.pending = nil
	r.mu.Unlock()
	if snap == nil || snap.Version <= r.saved {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.cache.Save(ctx, FromSnapshot(*snap, r.now())); err != nil {
		r.logger.Warn("state cache write failed",
			logging.String(logging.FieldStoryboardID, snap.Storyboard.ID),
			logging.String(logging.FieldEventType, "state_cache_failed"),
			logging.String(logging.FieldErrorHint, "status output may be stale"),
			logging.Error(err),
		)
		return
	}
	r.saved = snap.Version
}
