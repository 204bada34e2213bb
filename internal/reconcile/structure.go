package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"reel/internal/failure"
	"reel/internal/logging"
	"reel/internal/scene"
	"reel/internal/services"
)

const tempIDPrefix = "tmp-"

// AppendPosition adds a scene after the last one.
const AppendPosition = -1

func structuralError(op, sceneID string, reload bool, err error) error {
	return &failure.StructuralEditError{Op: op, SceneID: sceneID, ReloadRequired: reload, Err: err}
}

// AddScene inserts a placeholder at position (AppendPosition appends), asks
// the backend for the scene and swaps the placeholder for the permanent id at
// whatever position the placeholder holds by then. If the add fails the
// placeholder is removed. It returns the permanent id.
func (s *Store) AddScene(ctx context.Context, position int) (string, error) {
	s.mu.Lock()
	if s.closed || s.storyboard.ID == "" {
		s.mu.Unlock()
		return "", structuralError(failure.OpAdd, "", false, services.Wrap(services.ErrValidation, "reconcile", "add scene", "no storyboard loaded", nil))
	}
	if position < 0 || position > len(s.storyboard.SceneOrder) {
		position = AppendPosition
	}
	tempID := tempIDPrefix + uuid.NewString()
	placeholder := scene.Scene{
		ID:         tempID,
		Phase:      scene.PhaseText,
		Generation: scene.GenerationStatus{Text: scene.StatusGenerating, Image: scene.StatusNone, Video: scene.StatusNone},
		Temporary:  true,
	}
	s.scenes[tempID] = placeholder
	s.storyboard.SceneOrder = scene.Insert(s.storyboard.SceneOrder, tempID, position)
	if s.active < 0 {
		s.active = 0
	} else if idx := scene.IndexOf(s.storyboard.SceneOrder, tempID); idx <= s.active {
		s.active++
	}
	known := make(map[string]struct{}, len(s.scenes)+len(s.tombstones))
	for id := range s.scenes {
		known[id] = struct{}{}
	}
	for id := range s.tombstones {
		known[id] = struct{}{}
	}
	session, storyboardID := s.session, s.storyboard.ID
	snap := s.commitLocked(Change{Kind: ChangeAdd, SceneID: tempID, Source: scene.SourceLocal})
	s.mu.Unlock()
	s.publish(snap)

	ctx = services.WithStoryboardID(ctx, storyboardID)
	logger := logging.WithContext(ctx, s.logger)
	state, err := s.backend.AddScene(ctx, storyboardID, position)

	var newScene scene.Scene
	if err == nil {
		var found bool
		newScene, found = pickAdded(state, known, position)
		if !found {
			err = services.Wrap(services.ErrExternal, "reconcile", "add scene", "response does not contain a new scene", nil)
		}
	}

	s.mu.Lock()
	if s.session != session || s.closed {
		s.mu.Unlock()
		if err != nil {
			return "", structuralError(failure.OpAdd, "", false, err)
		}
		return newScene.ID, nil
	}
	_, placeholderRemoved := s.tombstones[tempID]
	if err != nil {
		snap = nil
		if !placeholderRemoved {
			s.dropSceneLocked(tempID)
			snap = s.commitLocked(Change{Kind: ChangeRemove, SceneID: tempID, Source: scene.SourceLocal})
		}
		delete(s.tombstones, tempID)
		s.mu.Unlock()
		s.publish(snap)
		logger.Warn("add scene failed", logging.String(logging.FieldEventType, "structural_edit_failed"), logging.Error(err))
		return "", structuralError(failure.OpAdd, "", false, err)
	}

	if placeholderRemoved {
		// The user deleted the placeholder while the add was in flight.
		delete(s.tombstones, tempID)
		s.tombstones[newScene.ID] = struct{}{}
		delete(s.pending, newScene.ID)
		s.mu.Unlock()
		logger.Info("placeholder removed before add confirmed; removing new scene",
			logging.String(logging.FieldSceneID, newScene.ID))
		go func() {
			rmCtx := services.WithSceneID(context.WithoutCancel(ctx), newScene.ID)
			if _, err := s.backend.RemoveScene(rmCtx, storyboardID, newScene.ID); err != nil && !errors.Is(err, services.ErrNotFound) {
				logging.WithContext(rmCtx, s.logger).Warn("cleanup of removed placeholder failed",
					logging.String(logging.FieldEventType, "structural_edit_failed"),
					logging.Error(err),
				)
			}
		}()
		return newScene.ID, nil
	}

	newScene.Normalize()
	newScene.Temporary = false
	scene.Replace(s.storyboard.SceneOrder, tempID, newScene.ID)
	delete(s.scenes, tempID)
	s.scenes[newScene.ID] = newScene
	s.flushPendingLocked()
	s.watchLocked(newScene.ID)
	snap = s.commitLocked(Change{Kind: ChangeAdd, SceneID: newScene.ID, Source: scene.SourceLocal})
	s.mu.Unlock()
	s.publish(snap)
	logger.Info("scene added", logging.String(logging.FieldSceneID, newScene.ID))
	return newScene.ID, nil
}

// pickAdded finds the scene the backend created: an id not known locally,
// preferring the one at the requested position.
func pickAdded(state scene.State, known map[string]struct{}, position int) (scene.Scene, bool) {
	byID := make(map[string]scene.Scene, len(state.Scenes))
	for _, sc := range state.Scenes {
		byID[sc.ID] = sc
	}
	var candidates []string
	for _, id := range state.Storyboard.SceneOrder {
		if _, ok := known[id]; !ok {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return scene.Scene{}, false
	}
	choice := candidates[len(candidates)-1]
	if position >= 0 && position < len(state.Storyboard.SceneOrder) {
		at := state.Storyboard.SceneOrder[position]
		if _, ok := known[at]; !ok {
			choice = at
		}
	}
	sc, ok := byID[choice]
	if !ok {
		sc = scene.Scene{ID: choice}
	}
	return sc, true
}

// RemoveScene deletes a scene locally at once and then confirms with the
// backend. A failed confirmation does not restore the scene: the error
// reports that a reload is required.
func (s *Store) RemoveScene(ctx context.Context, sceneID string) error {
	s.mu.Lock()
	if s.closed || s.storyboard.ID == "" {
		s.mu.Unlock()
		return structuralError(failure.OpRemove, sceneID, false, services.Wrap(services.ErrValidation, "reconcile", "remove scene", "no storyboard loaded", nil))
	}
	sc, ok := s.scenes[sceneID]
	if !ok {
		s.mu.Unlock()
		if _, removed := s.tombstones[sceneID]; removed {
			return nil
		}
		return structuralError(failure.OpRemove, sceneID, false, services.Wrap(services.ErrNotFound, "reconcile", "remove scene", "scene "+sceneID+" not found", nil))
	}
	s.dropSceneLocked(sceneID)
	s.tombstones[sceneID] = struct{}{}
	session, storyboardID := s.session, s.storyboard.ID
	snap := s.commitLocked(Change{Kind: ChangeRemove, SceneID: sceneID, Source: scene.SourceLocal})
	s.mu.Unlock()
	s.publish(snap)

	if sc.Temporary {
		// Not on the server yet; AddScene cleans up once the id is known.
		return nil
	}

	ctx = actionContext(ctx, storyboardID, sceneID, "")
	_, err := s.backend.RemoveScene(ctx, storyboardID, sceneID)
	if err == nil || errors.Is(err, services.ErrNotFound) {
		return nil
	}
	s.mu.Lock()
	stale := s.session != session
	s.mu.Unlock()
	if stale {
		return nil
	}
	logging.WithContext(ctx, s.logger).Warn("remove scene failed; local state kept",
		logging.String(logging.FieldEventType, "structural_edit_failed"),
		logging.String(logging.FieldErrorHint, "reload the storyboard"),
		logging.Error(err),
	)
	return structuralError(failure.OpRemove, sceneID, true, err)
}

// dropSceneLocked removes a scene from the collection and order, shifting
// the active index to the nearest remaining position.
func (s *Store) dropSceneLocked(sceneID string) {
	var idx int
	s.storyboard.SceneOrder, idx = scene.Remove(s.storyboard.SceneOrder, sceneID)
	delete(s.scenes, sceneID)
	delete(s.pending, sceneID)
	delete(s.jobs, sceneID)
	delete(s.inflight, sceneID)
	delete(s.lastPush, sceneID)
	s.stopWatchingLocked(sceneID)
	if idx < 0 {
		return
	}
	n := len(s.storyboard.SceneOrder)
	switch {
	case n == 0:
		s.active = -1
	case idx < s.active:
		s.active--
	case s.active >= n:
		s.active = n - 1
	}
}

// ReorderScenes replaces the display order. newOrder must be a permutation
// of the current order; anything else is rejected without touching state or
// calling the backend. If the backend rejects the order it is reverted,
// unless the order changed again in the meantime.
func (s *Store) ReorderScenes(ctx context.Context, newOrder []string) error {
	s.mu.Lock()
	if s.closed || s.storyboard.ID == "" {
		s.mu.Unlock()
		return structuralError(failure.OpReorder, "", false, services.Wrap(services.ErrValidation, "reconcile", "reorder scenes", "no storyboard loaded", nil))
	}
	previous := append([]string(nil), s.storyboard.SceneOrder...)
	if !scene.IsPermutation(previous, newOrder) {
		s.mu.Unlock()
		return structuralError(failure.OpReorder, "", false, services.Wrap(services.ErrValidation, "reconcile", "reorder scenes", "new order is not a permutation of the current scenes", nil))
	}
	if scene.SameOrder(previous, newOrder) {
		s.mu.Unlock()
		return nil
	}
	var activeID string
	if s.active >= 0 && s.active < len(previous) {
		activeID = previous[s.active]
	}
	applied := append([]string(nil), newOrder...)
	// The store's slice is edited in place when placeholders resolve, so it
	// must not share memory with applied.
	s.storyboard.SceneOrder = append([]string(nil), applied...)
	if activeID != "" {
		s.active = scene.IndexOf(applied, activeID)
	}
	serverOrder := make([]string, 0, len(applied))
	for _, id := range applied {
		if !s.scenes[id].Temporary {
			serverOrder = append(serverOrder, id)
		}
	}
	session, storyboardID := s.session, s.storyboard.ID
	snap := s.commitLocked(Change{Kind: ChangeReorder, Source: scene.SourceLocal})
	s.mu.Unlock()
	s.publish(snap)

	ctx = services.WithStoryboardID(ctx, storyboardID)
	_, err := s.backend.ReorderScenes(ctx, storyboardID, serverOrder)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	if s.session != session || s.closed {
		s.mu.Unlock()
		return nil
	}
	reverted := false
	snap = nil
	if scene.SameOrder(s.storyboard.SceneOrder, applied) {
		var activeID string
		if s.active >= 0 && s.active < len(applied) {
			activeID = applied[s.active]
		}
		s.storyboard.SceneOrder = previous
		if activeID != "" {
			s.active = scene.IndexOf(previous, activeID)
		}
		reverted = true
		snap = s.commitLocked(Change{Kind: ChangeReorder, Source: scene.SourceLocal})
	}
	s.mu.Unlock()
	s.publish(snap)
	logging.WithContext(ctx, s.logger).Warn("reorder failed",
		logging.String(logging.FieldEventType, "structural_edit_failed"),
		logging.Bool("reverted", reverted),
		logging.Error(err),
	)
	return structuralError(failure.OpReorder, "", !reverted, err)
}

// SetActive marks the scene shown to the user.
func (s *Store) SetActive(sceneID string) error {
	s.mu.Lock()
	idx := scene.IndexOf(s.storyboard.SceneOrder, sceneID)
	if idx < 0 {
		s.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "reconcile", "set active", "scene "+sceneID+" not found", nil)
	}
	if idx == s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = idx
	snap := s.commitLocked(Change{Kind: ChangeActive, SceneID: sceneID, Source: scene.SourceLocal})
	s.mu.Unlock()
	s.publish(snap)
	return nil
}

// Active returns the active scene id and index, or ("", -1).
func (s *Store) Active() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active < 0 || s.active >= len(s.storyboard.SceneOrder) {
		return "", -1
	}
	return s.storyboard.SceneOrder[s.active], s.active
}
