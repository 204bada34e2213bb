package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reel/internal/logging"
	"reel/internal/poller"
	"reel/internal/pushchannel"
	"reel/internal/scene"
)

// Backend is the subset of the job client the store drives.
type Backend interface {
	InitializeStoryboard(ctx context.Context, brief scene.Brief, mood string) (scene.State, error)
	GetStoryboard(ctx context.Context, storyboardID string) (scene.State, error)
	GenerateSceneText(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error)
	GenerateSceneImage(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error)
	GenerateSceneVideo(ctx context.Context, storyboardID, sceneID string) (scene.JobTicket, error)
	RegenerateVideo(ctx context.Context, storyboardID, sceneID string) (scene.JobTicket, error)
	UpdateSceneText(ctx context.Context, storyboardID, sceneID, text string) (scene.Scene, error)
	UpdateSceneDuration(ctx context.Context, storyboardID, sceneID string, seconds float64) (scene.Scene, error)
	PatchScene(ctx context.Context, storyboardID, sceneID string, patch scene.Patch) (scene.Scene, error)
	AddScene(ctx context.Context, storyboardID string, position int) (scene.State, error)
	RemoveScene(ctx context.Context, storyboardID, sceneID string) (scene.State, error)
	ReorderScenes(ctx context.Context, storyboardID string, order []string) (scene.State, error)
	GetSceneStatus(ctx context.Context, sceneID string) (scene.StatusReport, error)
}

// Channel is a push subscription for one storyboard at a time.
type Channel interface {
	Connect(ctx context.Context, storyboardID string, onEvent func(pushchannel.Event), onError func(error)) error
	Disconnect()
}

// ChannelState describes how the store is currently receiving updates.
type ChannelState string

const (
	ChannelDisabled   ChannelState = "disabled"
	ChannelIdle       ChannelState = "idle"
	ChannelConnecting ChannelState = "connecting"
	ChannelLive       ChannelState = "live"
	ChannelBackoff    ChannelState = "backoff"
	ChannelComplete   ChannelState = "complete"
	// ChannelPolling means reconnects were abandoned and polling carries
	// every generating scene.
	ChannelPolling ChannelState = "polling"
)

// Change describes the transition that produced a snapshot.
type Change struct {
	Kind    string
	SceneID string
	Source  scene.Source
}

// Change kinds.
const (
	ChangeLoad     = "load"
	ChangeScene    = "scene"
	ChangeAdd      = "add"
	ChangeRemove   = "remove"
	ChangeReorder  = "reorder"
	ChangeActive   = "active"
	ChangeChannel  = "channel"
	ChangeSync     = "sync"
	ChangeReplaced = "replaced"
)

// Snapshot is an immutable copy of the store state at one version.
type Snapshot struct {
	Version     uint64
	Storyboard  scene.Storyboard
	Scenes      []scene.Scene
	ActiveIndex int
	Channel     ChannelState
	Change      Change
}

// Scene looks up a scene in the snapshot.
func (s Snapshot) Scene(id string) (scene.Scene, bool) {
	for _, sc := range s.Scenes {
		if sc.ID == id {
			return sc, true
		}
	}
	return scene.Scene{}, false
}

// Generating returns the ids of scenes with a phase in flight.
func (s Snapshot) Generating() []string {
	var ids []string
	for _, sc := range s.Scenes {
		if sc.Generation.Generating() {
			ids = append(ids, sc.ID)
		}
	}
	return ids
}

type jobTrack struct {
	current    string
	superseded map[string]struct{}
	awaiting   bool
	// heldTerminal records a terminal video status masked while awaiting;
	// its job is unknown, so the scene is polled once the job is accepted.
	heldTerminal bool
	retries      int
}

type pendingUpdate struct {
	update   scene.Update
	received time.Time
}

type pushState struct {
	state    ChannelState
	epoch    uint64
	failures int
	everLive bool
	resync   bool
	timer    *time.Timer
}

// Store is the single authoritative holder of a storyboard and its scenes.
type Store struct {
	backend Backend
	channel Channel
	poller  *poller.Engine
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	version    uint64
	session    uint64
	storyboard scene.Storyboard
	scenes     map[string]scene.Scene
	tombstones map[string]struct{}
	pending    map[string][]pendingUpdate
	jobs       map[string]*jobTrack
	inflight   map[string]map[scene.Phase]int
	grace      map[string]*time.Timer
	lastPush   map[string]time.Time
	active     int
	push       pushState
	closed     bool

	notifyMu  sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
	delivered uint64
}

// New builds an empty store. channel may be nil, in which case status
// arrives by polling only.
func New(backend Backend, channel Channel, opts Options) *Store {
	opts = opts.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend:   backend,
		channel:   channel,
		opts:      opts,
		logger:    logging.NewComponentLogger(opts.Logger, "reconcile"),
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]func(Snapshot)),
	}
	s.resetLocked(scene.State{})
	s.poller = poller.New(backend, s.Submit, poller.Options{
		Interval:    opts.PollInterval,
		MaxAttempts: opts.PollMaxAttempts,
		Logger:      opts.Logger,
		OnExhausted: s.pollExhausted,
	})
	return s
}

// resetLocked replaces all state wholesale and invalidates every callback
// bound to the previous session.
func (s *Store) resetLocked(state scene.State) {
	s.session++
	for _, t := range s.grace {
		t.Stop()
	}
	if s.push.timer != nil {
		s.push.timer.Stop()
	}
	s.storyboard = state.Storyboard.Clone()
	s.scenes = make(map[string]scene.Scene, len(state.Scenes))
	for _, sc := range state.Scenes {
		sc.Normalize()
		s.scenes[sc.ID] = sc
	}
	if len(s.storyboard.SceneOrder) == 0 {
		for _, sc := range state.Scenes {
			s.storyboard.SceneOrder = append(s.storyboard.SceneOrder, sc.ID)
		}
	}
	s.tombstones = make(map[string]struct{})
	s.pending = make(map[string][]pendingUpdate)
	s.jobs = make(map[string]*jobTrack)
	s.inflight = make(map[string]map[scene.Phase]int)
	s.grace = make(map[string]*time.Timer)
	s.lastPush = make(map[string]time.Time)
	s.active = -1
	if len(s.storyboard.SceneOrder) > 0 {
		s.active = 0
	}
	s.push = pushState{state: ChannelIdle, epoch: s.push.epoch + 1}
	if s.channel == nil || !s.opts.PushEnabled {
		s.push.state = ChannelDisabled
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(Change{})
}

// Scene returns one scene.
func (s *Store) Scene(id string) (scene.Scene, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[id]
	return sc.Clone(), ok
}

// Order returns the display order.
func (s *Store) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.storyboard.SceneOrder...)
}

// StoryboardID returns the loaded storyboard id, or "".
func (s *Store) StoryboardID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storyboard.ID
}

func (s *Store) snapshotLocked(change Change) Snapshot {
	snap := Snapshot{
		Version:     s.version,
		Storyboard:  s.storyboard.Clone(),
		Scenes:      make([]scene.Scene, 0, len(s.storyboard.SceneOrder)),
		ActiveIndex: s.active,
		Channel:     s.push.state,
		Change:      change,
	}
	for _, id := range s.storyboard.SceneOrder {
		snap.Scenes = append(snap.Scenes, s.scenes[id].Clone())
	}
	return snap
}

// commitLocked records a transition and returns the snapshot to publish
// once the lock is released.
func (s *Store) commitLocked(change Change) *Snapshot {
	s.version++
	snap := s.snapshotLocked(change)
	return &snap
}

// Subscribe registers an observer called after every transition. Observers
// run one at a time, in version order, outside the state lock; they must not
// call store actions synchronously.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.observers, id)
	}
}

// publish delivers snapshots to observers. A snapshot older than one already
// delivered is skipped: observers only ever see newer state.
func (s *Store) publish(snaps ...*Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, snap := range snaps {
		if snap == nil || snap.Version <= s.delivered {
			continue
		}
		s.delivered = snap.Version
		for _, fn := range s.observers {
			fn(*snap)
		}
	}
}

// Close stops polling, closes the push subscription and invalidates pending
// callbacks. Server-side work is not cancelled.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.session++
	s.push.epoch++
	for _, t := range s.grace {
		t.Stop()
	}
	if s.push.timer != nil {
		s.push.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	if s.channel != nil {
		s.channel.Disconnect()
	}
	s.poller.Close()
}

func (s *Store) loggerLocked() *slog.Logger {
	if s.storyboard.ID == "" {
		return s.logger
	}
	return s.logger.With(logging.String(logging.FieldStoryboardID, s.storyboard.ID))
}
