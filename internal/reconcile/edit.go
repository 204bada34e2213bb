package reconcile

import (
	"context"
	"fmt"
	"strings"

	"reel/internal/failure"
	"reel/internal/logging"
	"reel/internal/scene"
	"reel/internal/services"
)

// editJob is a direct field update with no generation side effects.
type editJob struct {
	op     string
	apply  func(sc *scene.Scene) error
	call   func(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error)
	settle func(current, server scene.Scene) scene.Scene
	revert func(current *scene.Scene, before scene.Scene)
	wrap   func(sceneID string, err error) error
}

func (s *Store) runEdit(ctx context.Context, sceneID string, job editJob) error {
	s.mu.Lock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		s.mu.Unlock()
		return job.wrap(sceneID, err)
	}
	before := sc.Clone()
	next := sc.Clone()
	if err := job.apply(&next); err != nil {
		s.mu.Unlock()
		return job.wrap(sceneID, services.Wrap(services.ErrValidation, "reconcile", job.op, err.Error(), nil))
	}
	if scene.Equal(before, next) {
		s.mu.Unlock()
		return nil
	}
	s.scenes[sceneID] = next
	session, storyboardID := s.session, s.storyboard.ID
	snap := s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourceLocal})
	s.mu.Unlock()
	s.publish(snap)

	ctx = actionContext(ctx, storyboardID, sceneID, "")
	result, callErr := job.call(ctx, storyboardID, sceneID)

	s.mu.Lock()
	if !s.liveSceneLocked(session, sceneID) {
		s.mu.Unlock()
		return nil
	}
	current := s.scenes[sceneID]
	var settled scene.Scene
	if callErr != nil {
		settled = current.Clone()
		job.revert(&settled, before)
		settled.ErrorMessage = failure.UserMessage(callErr)
	} else {
		settled = job.settle(current, result)
	}
	snap = nil
	if !scene.Equal(current, settled) {
		s.scenes[sceneID] = settled
		snap = s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourceLocal})
	}
	s.mu.Unlock()
	s.publish(snap)
	if callErr != nil {
		logging.WithContext(ctx, s.logger).Warn("scene edit failed",
			logging.String("operation", job.op),
			logging.String(logging.FieldEventType, "edit_failed"),
			logging.Error(callErr),
		)
		return job.wrap(sceneID, callErr)
	}
	return nil
}

// EditText replaces a scene's text directly.
func (s *Store) EditText(ctx context.Context, sceneID, text string) error {
	text = strings.TrimSpace(text)
	return s.runEdit(ctx, sceneID, editJob{
		op: "edit text",
		apply: func(sc *scene.Scene) error {
			if text == "" {
				return fmt.Errorf("scene text must not be empty")
			}
			sc.Text = text
			sc.Generation.Text = scene.StatusComplete
			return nil
		},
		call: func(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error) {
			return s.backend.UpdateSceneText(ctx, storyboardID, sceneID, text)
		},
		settle: func(current, server scene.Scene) scene.Scene {
			next := current.Clone()
			if server.Text != "" {
				next.Text = server.Text
			}
			return next
		},
		revert: func(current *scene.Scene, before scene.Scene) {
			if current.Text == text {
				current.Text = before.Text
				current.Generation.Text = before.Generation.Text
			}
		},
		wrap: textError,
	})
}

// UpdateDuration sets a scene's duration. A trim window that ends past the
// new duration is cleared.
func (s *Store) UpdateDuration(ctx context.Context, sceneID string, seconds float64) error {
	return s.runEdit(ctx, sceneID, editJob{
		op: "update duration",
		apply: func(sc *scene.Scene) error {
			if seconds <= 0 {
				return fmt.Errorf("duration must be positive, got %.2f", seconds)
			}
			sc.DurationSeconds = seconds
			if sc.Trim != nil && sc.Trim.End > seconds {
				sc.Trim = nil
			}
			return nil
		},
		call: func(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error) {
			return s.backend.UpdateSceneDuration(ctx, storyboardID, sceneID, seconds)
		},
		settle: func(current, server scene.Scene) scene.Scene {
			next := current.Clone()
			if server.DurationSeconds > 0 {
				next.DurationSeconds = server.DurationSeconds
			}
			return next
		},
		revert: func(current *scene.Scene, before scene.Scene) {
			if current.DurationSeconds == seconds {
				current.DurationSeconds = before.DurationSeconds
				if current.Trim == nil && before.Trim != nil {
					t := *before.Trim
					current.Trim = &t
				}
			}
		},
		wrap: func(sceneID string, err error) error {
			return &failure.DurationUpdateError{SceneID: sceneID, Err: err}
		},
	})
}

// SetAsset activates an overlay asset of the given kind, replacing any
// previous one; an empty assetID disables the kind. invalidatesImage reports
// that the scene already has a completed image which no longer reflects its
// overlays, so the caller should offer to regenerate it.
func (s *Store) SetAsset(ctx context.Context, sceneID string, kind scene.AssetKind, assetID string) (invalidatesImage bool, err error) {
	if _, ok := scene.ParseAssetKind(string(kind)); !ok {
		return false, &failure.AssetUpdateError{SceneID: sceneID, Field: string(kind),
			Err: services.Wrap(services.ErrValidation, "reconcile", "set asset", "unknown asset kind "+string(kind), nil)}
	}
	assetID = strings.TrimSpace(assetID)
	field := string(kind) + " asset"
	err = s.runEdit(ctx, sceneID, editJob{
		op: "set asset",
		apply: func(sc *scene.Scene) error {
			invalidatesImage = sc.Generation.Image == scene.StatusComplete && sc.Asset(kind) != assetID
			sc.SetAsset(kind, assetID)
			return nil
		},
		call: func(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error) {
			return s.backend.PatchScene(ctx, storyboardID, sceneID, scene.AssetPatch(kind, assetID))
		},
		settle: func(current, server scene.Scene) scene.Scene {
			next := current.Clone()
			next.SetAsset(kind, server.Asset(kind))
			return next
		},
		revert: func(current *scene.Scene, before scene.Scene) {
			if current.Asset(kind) == assetID {
				current.SetAsset(kind, before.Asset(kind))
			}
		},
		wrap: func(sceneID string, err error) error {
			return &failure.AssetUpdateError{SceneID: sceneID, Field: field, Err: err}
		},
	})
	if err != nil {
		return false, err
	}
	return invalidatesImage, nil
}

// ClearAsset disables the overlay of the given kind.
func (s *Store) ClearAsset(ctx context.Context, sceneID string, kind scene.AssetKind) (bool, error) {
	return s.SetAsset(ctx, sceneID, kind, "")
}

// SetTrim sets the trim window over a completed video. The window must lie
// within the source duration.
func (s *Store) SetTrim(ctx context.Context, sceneID string, start, end float64) error {
	trim := scene.Trim{Start: start, End: end}
	return s.runEdit(ctx, sceneID, editJob{
		op: "set trim",
		apply: func(sc *scene.Scene) error {
			if sc.Generation.Video != scene.StatusComplete {
				return fmt.Errorf("trim requires a completed video")
			}
			bound := sc.SourceDuration
			if bound <= 0 {
				bound = sc.DurationSeconds
			}
			if err := trim.Check(bound); err != nil {
				return err
			}
			t := trim
			sc.Trim = &t
			return nil
		},
		call: func(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error) {
			t := trim
			return s.backend.PatchScene(ctx, storyboardID, sceneID, scene.Patch{Trim: &t})
		},
		settle: func(current, server scene.Scene) scene.Scene {
			next := current.Clone()
			if server.Trim != nil {
				t := *server.Trim
				next.Trim = &t
			}
			return next
		},
		revert: func(current *scene.Scene, before scene.Scene) {
			if current.Trim != nil && *current.Trim == trim {
				current.Trim = nil
				if before.Trim != nil {
					t := *before.Trim
					current.Trim = &t
				}
			}
		},
		wrap: func(sceneID string, err error) error {
			return &failure.AssetUpdateError{SceneID: sceneID, Field: "trim", Err: err}
		},
	})
}
