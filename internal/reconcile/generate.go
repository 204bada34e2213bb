package reconcile

import (
	"context"

	"reel/internal/failure"
	"reel/internal/logging"
	"reel/internal/scene"
	"reel/internal/services"
)

// syncJob describes a generation call whose result comes back in the
// response.
type syncJob struct {
	op    string
	phase scene.Phase
	// start applies the optimistic change; false means there is nothing to do.
	start  func(sc *scene.Scene) bool
	call   func(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error)
	settle func(current, server scene.Scene) scene.Scene
	wrap   func(sceneID string, err error) error
}

func (s *Store) runSync(ctx context.Context, sceneID string, job syncJob) error {
	s.mu.Lock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		s.mu.Unlock()
		return job.wrap(sceneID, err)
	}
	next := sc.Clone()
	if !job.start(&next) {
		s.mu.Unlock()
		return nil
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return job.wrap(sceneID, services.Wrap(services.ErrValidation, "reconcile", job.op, "", err))
	}
	s.scenes[sceneID] = next
	s.beginInflightLocked(sceneID, job.phase)
	session, storyboardID := s.session, s.storyboard.ID
	snap := s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourceLocal})
	s.mu.Unlock()
	s.publish(snap)

	ctx = actionContext(ctx, storyboardID, sceneID, job.phase)
	result, callErr := job.call(ctx, storyboardID, sceneID)

	s.mu.Lock()
	if s.session != session || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.endInflightLocked(sceneID, job.phase)
	current, ok := s.scenes[sceneID]
	if !ok {
		s.mu.Unlock()
		logging.WithContext(ctx, s.logger).Debug("discarding result for removed scene", logging.String("operation", job.op))
		return nil
	}
	if callErr != nil {
		s.failPhaseLocked(sceneID, job.phase, failure.UserMessage(callErr))
		snap = s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourceLocal})
		s.mu.Unlock()
		s.publish(snap)
		logging.WithContext(ctx, s.logger).Warn("generation failed",
			logging.String("operation", job.op),
			logging.String(logging.FieldEventType, "generation_failed"),
			logging.String("kind", failure.Classify(callErr).String()),
			logging.Error(callErr),
		)
		return job.wrap(sceneID, callErr)
	}
	settled := job.settle(current, result)
	settled.ErrorMessage = ""
	if scene.HasError(settled.Generation) {
		settled.ErrorMessage = current.ErrorMessage
	}
	if err := settled.Validate(); err != nil {
		s.mu.Unlock()
		return job.wrap(sceneID, services.Wrap(services.ErrExternal, "reconcile", job.op, "invalid scene in response", err))
	}
	snap = nil
	if !scene.Equal(current, settled) {
		s.scenes[sceneID] = settled
		snap = s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourceLocal})
	}
	s.mu.Unlock()
	s.publish(snap)
	return nil
}

func textError(sceneID string, err error) error {
	return &failure.TextGenerationError{SceneID: sceneID, Err: err}
}

func imageError(sceneID string, err error) error {
	return &failure.ImageGenerationError{SceneID: sceneID, Err: err}
}

// settleImage takes the image outcome from the server snapshot and leaves
// fields owned by other phases to their own update paths.
func settleImage(current, server scene.Scene) scene.Scene {
	next := current.Clone()
	next.Generation.Image = server.Generation.Image
	if next.Generation.Image == "" || next.Generation.Image == scene.StatusNone || next.Generation.Image == scene.StatusGenerating {
		next.Generation.Image = scene.StatusComplete
	}
	next.ImageURL = server.ImageURL
	next.Phase = scene.MaxPhase(current.Phase, scene.MaxPhase(server.Phase, scene.PhaseImage))
	return next
}

func settleText(current, server scene.Scene) scene.Scene {
	next := current.Clone()
	next.Text = server.Text
	next.Generation.Text = scene.StatusComplete
	if server.DurationSeconds > 0 {
		next.DurationSeconds = server.DurationSeconds
	}
	return next
}

// ApproveText accepts a scene's text and generates its image. The image
// status goes to generating immediately; the response settles it.
// Approving a scene whose image is already generating or complete is a
// no-op.
func (s *Store) ApproveText(ctx context.Context, sceneID string) error {
	return s.runSync(ctx, sceneID, syncJob{
		op:    "approve text",
		phase: scene.PhaseImage,
		start: func(sc *scene.Scene) bool {
			if sc.Generation.Image == scene.StatusGenerating || sc.Generation.Image == scene.StatusComplete {
				return false
			}
			sc.Generation.Image = scene.StatusGenerating
			sc.Phase = scene.MaxPhase(sc.Phase, scene.PhaseImage)
			sc.ErrorMessage = ""
			return true
		},
		call:   s.backend.GenerateSceneImage,
		settle: settleImage,
		wrap:   imageError,
	})
}

// RegenerateImage generates a new image from any settled image status. A
// video in flight for the old image is superseded and reset to none; the
// phase is not lowered.
func (s *Store) RegenerateImage(ctx context.Context, sceneID string) error {
	return s.runSync(ctx, sceneID, syncJob{
		op:    "regenerate image",
		phase: scene.PhaseImage,
		start: func(sc *scene.Scene) bool {
			if sc.Generation.Image == scene.StatusGenerating {
				return false
			}
			if sc.Generation.Video == scene.StatusGenerating {
				s.supersedeLocked(sc.ID).awaiting = false
				sc.Generation.Video = scene.StatusNone
			}
			sc.Generation.Image = scene.StatusGenerating
			sc.Phase = scene.MaxPhase(sc.Phase, scene.PhaseImage)
			sc.ErrorMessage = ""
			return true
		},
		call:   s.backend.GenerateSceneImage,
		settle: settleImage,
		wrap:   imageError,
	})
}

// RegenerateText asks the model for new scene text.
func (s *Store) RegenerateText(ctx context.Context, sceneID string) error {
	return s.runSync(ctx, sceneID, syncJob{
		op:    "regenerate text",
		phase: scene.PhaseText,
		start: func(sc *scene.Scene) bool {
			if sc.Generation.Text == scene.StatusGenerating {
				return false
			}
			sc.Generation.Text = scene.StatusGenerating
			sc.ErrorMessage = ""
			return true
		},
		call:   s.backend.GenerateSceneText,
		settle: settleText,
		wrap:   textError,
	})
}

// ApproveImage accepts a scene's image and submits its video job. Only job
// acceptance comes back; the terminal status arrives by push or poll.
func (s *Store) ApproveImage(ctx context.Context, sceneID string) error {
	return s.runVideo(ctx, sceneID, false)
}

// RegenerateVideo submits a replacement video job from any video status. A
// job already in flight is superseded, so its late events are ignored.
// Content-policy rejections are retried a bounded number of times, both when
// the submission is refused and when the job later fails.
func (s *Store) RegenerateVideo(ctx context.Context, sceneID string) error {
	return s.runVideo(ctx, sceneID, true)
}

func (s *Store) runVideo(ctx context.Context, sceneID string, regenerate bool) error {
	op := "approve image"
	submit := s.backend.GenerateSceneVideo
	if regenerate {
		op = "regenerate video"
		submit = s.backend.RegenerateVideo
	}
	wrap := func(err error, contentPolicy bool, attempts int) error {
		return &failure.VideoGenerationError{SceneIDs: []string{sceneID}, ContentPolicy: contentPolicy, Attempts: attempts, Err: err}
	}

	s.mu.Lock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		s.mu.Unlock()
		return wrap(err, false, 0)
	}
	if sc.Generation.Image != scene.StatusComplete {
		s.mu.Unlock()
		return wrap(services.Wrap(services.ErrValidation, "reconcile", op, "image must be complete before video generation", nil), false, 0)
	}
	if !regenerate && sc.Generation.Video == scene.StatusGenerating {
		s.mu.Unlock()
		return nil
	}
	next := sc.Clone()
	next.Generation.Video = scene.StatusGenerating
	next.Phase = scene.PhaseVideo
	next.ErrorMessage = ""
	s.scenes[sceneID] = next
	track := s.supersedeLocked(sceneID)
	track.retries = 0
	budget := 0
	if regenerate {
		budget = s.opts.ContentPolicyRetries
	}
	session, storyboardID := s.session, s.storyboard.ID
	snap := s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourceLocal})
	s.mu.Unlock()
	s.publish(snap)

	s.ensureChannel()

	ctx = actionContext(ctx, storyboardID, sceneID, scene.PhaseVideo)
	logger := logging.WithContext(ctx, s.logger)
	var ticket scene.JobTicket
	attempts, callErr := failure.RetryContentPolicy(ctx, failure.RetryPolicy{Extra: budget, Delay: s.opts.ContentPolicyRetryDelay},
		func(ctx context.Context, attempt int) error {
			if attempt > 1 {
				s.mu.Lock()
				live := s.liveSceneLocked(session, sceneID)
				s.mu.Unlock()
				if !live {
					return context.Canceled
				}
				logger.Info("video refused on content policy; retrying",
					logging.Int("attempt", attempt),
					logging.String(logging.FieldEventType, "content_policy_retry"),
				)
			}
			var err error
			ticket, err = submit(ctx, storyboardID, sceneID)
			return err
		})

	s.mu.Lock()
	if !s.liveSceneLocked(session, sceneID) {
		s.mu.Unlock()
		logger.Debug("discarding video submission for removed scene")
		return nil
	}
	current := s.scenes[sceneID]
	track = s.trackLocked(sceneID)
	if callErr != nil {
		s.abandonJobLocked(sceneID)
		contentPolicy := failure.IsContentPolicy(callErr)
		snap = nil
		if current.Generation.Video == scene.StatusGenerating {
			s.failPhaseLocked(sceneID, scene.PhaseVideo, failure.UserMessage(callErr))
			snap = s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourceLocal})
		}
		s.mu.Unlock()
		s.publish(snap)
		logger.Warn("video submission failed",
			logging.String(logging.FieldEventType, "generation_failed"),
			logging.Int("attempts", attempts),
			logging.String("kind", failure.Classify(callErr).String()),
			logging.Error(callErr),
		)
		return wrap(callErr, contentPolicy, attempts)
	}
	// The terminal event may have raced ahead of the acceptance; only a
	// scene still generating takes ownership of the new job.
	if current.Generation.Video == scene.StatusGenerating {
		s.acceptJobLocked(sceneID, ticket)
		track.retries = max(budget-(attempts-1), 0)
		s.watchLocked(sceneID)
	} else {
		s.abandonJobLocked(sceneID)
	}
	s.mu.Unlock()
	logger.Info("video job accepted", logging.String("job_id", ticket.JobID), logging.Int("attempts", attempts))
	return nil
}
