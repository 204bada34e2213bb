package reconcile

import (
	"context"
	"fmt"

	"reel/internal/failure"
	"reel/internal/logging"
	"reel/internal/scene"
	"reel/internal/services"
)

// Initialize creates a storyboard from a creative brief, replaces the store
// state with it and opens the push channel. Failures are not retried.
func (s *Store) Initialize(ctx context.Context, brief scene.Brief, mood string) (scene.State, error) {
	state, err := s.backend.InitializeStoryboard(ctx, brief, mood)
	if err != nil {
		return scene.State{}, &failure.InitializationError{Err: err}
	}
	snap, err := s.replace(state)
	if err != nil {
		return scene.State{}, &failure.InitializationError{Err: err}
	}
	s.publish(snap)
	s.logger.Info("storyboard initialized",
		logging.String(logging.FieldStoryboardID, state.Storyboard.ID),
		logging.Int("scenes", len(state.Scenes)),
	)
	s.openChannel(false)
	return s.stateCopy(), nil
}

// LoadExisting fetches a storyboard and replaces the store state with it.
// When scenes are mid-generation it opens the push channel and arms a grace
// timer per generating scene; a scene that hears nothing within the grace
// period is polled individually.
func (s *Store) LoadExisting(ctx context.Context, storyboardID string) (scene.State, error) {
	ctx = services.WithStoryboardID(ctx, storyboardID)
	state, err := s.backend.GetStoryboard(ctx, storyboardID)
	if err != nil {
		return scene.State{}, fmt.Errorf("load storyboard %s: %w", storyboardID, err)
	}
	snap, err := s.replace(state)
	if err != nil {
		return scene.State{}, err
	}
	s.publish(snap)

	s.mu.Lock()
	var generating []string
	for _, id := range s.storyboard.SceneOrder {
		if s.scenes[id].Generation.Generating() {
			generating = append(generating, id)
		}
	}
	for _, id := range generating {
		s.armGraceLocked(id)
	}
	s.mu.Unlock()

	logging.WithContext(ctx, s.logger).Info("storyboard loaded",
		logging.Int("scenes", len(state.Scenes)),
		logging.Int("generating", len(generating)),
	)
	if len(generating) > 0 {
		s.openChannel(false)
	}
	return s.stateCopy(), nil
}

// replace swaps in a whole new storyboard after validating it.
func (s *Store) replace(state scene.State) (*Snapshot, error) {
	if state.Storyboard.ID == "" {
		return nil, services.Wrap(services.ErrExternal, "reconcile", "load", "storyboard id missing", nil)
	}
	seen := make(map[string]struct{}, len(state.Scenes))
	for i := range state.Scenes {
		state.Scenes[i].Normalize()
		if err := state.Scenes[i].Validate(); err != nil {
			return nil, services.Wrap(services.ErrExternal, "reconcile", "load", "invalid scene", err)
		}
		seen[state.Scenes[i].ID] = struct{}{}
	}
	if len(state.Storyboard.SceneOrder) > 0 {
		if scene.HasDuplicates(state.Storyboard.SceneOrder) || len(state.Storyboard.SceneOrder) != len(seen) {
			return nil, services.Wrap(services.ErrExternal, "reconcile", "load", "scene order does not match scenes", nil)
		}
		for _, id := range state.Storyboard.SceneOrder {
			if _, ok := seen[id]; !ok {
				return nil, services.Wrap(services.ErrExternal, "reconcile", "load", "scene order references unknown scene "+id, nil)
			}
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, services.Wrap(services.ErrValidation, "reconcile", "load", "store is closed", nil)
	}
	previous := s.storyboard.ID
	s.resetLocked(state)
	s.poller.StopAll()
	snap := s.commitLocked(Change{Kind: ChangeLoad})
	s.mu.Unlock()

	// Callbacks bound to the old subscription are stale even when the
	// storyboard is the same, so the channel always starts over.
	if previous != "" && s.channel != nil {
		s.channel.Disconnect()
	}
	return snap, nil
}

func (s *Store) stateCopy() scene.State {
	snap := s.Snapshot()
	return scene.State{Storyboard: snap.Storyboard, Scenes: snap.Scenes}
}

// sceneLocked returns a scene that store actions may operate on.
func (s *Store) sceneLocked(sceneID string) (scene.Scene, error) {
	if s.closed {
		return scene.Scene{}, services.Wrap(services.ErrValidation, "reconcile", "lookup", "store is closed", nil)
	}
	if s.storyboard.ID == "" {
		return scene.Scene{}, services.Wrap(services.ErrValidation, "reconcile", "lookup", "no storyboard loaded", nil)
	}
	sc, ok := s.scenes[sceneID]
	if !ok {
		return scene.Scene{}, services.Wrap(services.ErrNotFound, "reconcile", "lookup", "scene "+sceneID+" not found", nil)
	}
	if sc.Temporary {
		return scene.Scene{}, services.Wrap(services.ErrConflict, "reconcile", "lookup", "scene "+sceneID+" is awaiting confirmation", nil)
	}
	return sc, nil
}

func actionContext(ctx context.Context, storyboardID, sceneID string, phase scene.Phase) context.Context {
	ctx = services.WithSceneID(services.WithStoryboardID(ctx, storyboardID), sceneID)
	if phase != "" {
		ctx = services.WithPhase(ctx, string(phase))
	}
	return ctx
}
