package reconcile

import (
	"errors"
	"time"

	"reel/internal/failure"
	"reel/internal/logging"
	"reel/internal/pushchannel"
	"reel/internal/scene"
	"reel/internal/services"
)

const maxPendingPerScene = 16

// Submit is the single entry point for proposed updates from push, poll and
// resync. It reports whether the scene still has a phase generating, which
// the poller uses to decide whether to keep going.
func (s *Store) Submit(u scene.Update) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	flushed := s.flushPendingLocked()
	changed, generating := s.applyLocked(u)
	var snap *Snapshot
	if changed || flushed {
		snap = s.commitLocked(Change{Kind: ChangeScene, SceneID: u.SceneID, Source: u.Source})
	}
	s.mu.Unlock()
	s.publish(snap)
	return generating
}

// applyLocked merges one update and reports whether state changed and
// whether the scene is still generating afterwards.
func (s *Store) applyLocked(u scene.Update) (changed, generating bool) {
	logger := s.loggerLocked().With(
		logging.String(logging.FieldSceneID, u.SceneID),
		logging.String(logging.FieldSource, string(u.Source)),
	)
	if err := u.Validate(); err != nil {
		logger.Warn("dropping invalid update", logging.String(logging.FieldEventType, "invalid_update"), logging.Error(err))
		return false, false
	}
	if _, removed := s.tombstones[u.SceneID]; removed {
		logger.Debug("ignoring update for removed scene")
		return false, false
	}
	current, ok := s.scenes[u.SceneID]
	if !ok {
		s.bufferLocked(u)
		logger.Debug("buffering update for unknown scene")
		return false, false
	}

	track := s.jobs[u.SceneID]
	if track != nil && u.JobID != "" {
		if _, stale := track.superseded[u.JobID]; stale {
			logger.Debug("ignoring update from superseded job", logging.String("job_id", u.JobID))
			return false, current.Generation.Generating()
		}
	}

	u = s.maskLocked(current, u)

	if u.VideoStatus == scene.StatusError && current.Generation.Video == scene.StatusGenerating &&
		failure.ClassifyMessage(u.ErrorCode, u.Error) == failure.KindContentPolicy &&
		track != nil && track.retries > 0 {
		track.retries--
		if track.current != "" {
			track.superseded[track.current] = struct{}{}
		}
		if u.JobID != "" {
			track.superseded[u.JobID] = struct{}{}
		}
		track.current = ""
		track.awaiting = true
		logger.Info("video refused on content policy; resubmitting",
			logging.Int("retries_left", track.retries),
			logging.String(logging.FieldEventType, "content_policy_retry"),
		)
		go s.resubmitVideo(s.session, s.storyboard.ID, u.SceneID)
		return false, true
	}

	if u.TextStatus == scene.StatusError || u.ImageStatus == scene.StatusError || u.VideoStatus == scene.StatusError {
		u.Error = failure.MessageFor(u.ErrorCode, u.Error)
	}

	next, changed := u.ApplyTo(current)
	if !changed {
		return false, next.Generation.Generating()
	}
	if err := next.Validate(); err != nil {
		logger.Warn("dropping update that violates scene invariants", logging.String(logging.FieldEventType, "invalid_update"), logging.Error(err))
		return false, current.Generation.Generating()
	}
	s.scenes[u.SceneID] = next
	if track != nil && next.Generation.Video != scene.StatusGenerating && !track.awaiting {
		track.retries = 0
	}
	if !next.Generation.Generating() {
		s.stopWatchingLocked(u.SceneID)
	}
	logger.Debug("scene updated",
		logging.String("image_status", string(next.Generation.Image)),
		logging.String("video_status", string(next.Generation.Video)),
	)
	return true, next.Generation.Generating()
}

// maskLocked drops the status fields the store must not take from an
// asynchronous source: phases with a local request in flight, and
// "generating" reported over a status that already settled.
func (s *Store) maskLocked(current scene.Scene, u scene.Update) scene.Update {
	if u.Source == scene.SourceLocal {
		return u
	}
	inflight := s.inflight[u.SceneID]
	track := s.jobs[u.SceneID]
	// While a video submission is unanswered only events naming a job can be
	// trusted; superseded jobs were filtered out before masking.
	awaitingVideo := track != nil && track.awaiting && u.JobID == ""
	mask := func(phase scene.Phase, status *scene.Status) {
		if *status == "" {
			return
		}
		if inflight[phase] > 0 || (phase == scene.PhaseVideo && awaitingVideo) {
			if phase == scene.PhaseVideo && awaitingVideo && status.IsTerminal() {
				track.heldTerminal = true
			}
			*status = ""
			return
		}
		if *status == scene.StatusGenerating && current.Generation.Get(phase).IsTerminal() {
			*status = ""
		}
	}
	mask(scene.PhaseText, &u.TextStatus)
	mask(scene.PhaseImage, &u.ImageStatus)
	mask(scene.PhaseVideo, &u.VideoStatus)
	if inflight[scene.PhaseImage] > 0 {
		u.ImageURL = ""
	}
	if inflight[scene.PhaseVideo] > 0 || awaitingVideo {
		u.VideoURL = ""
	}
	return u
}

func (s *Store) bufferLocked(u scene.Update) {
	if u.Source == scene.SourceLocal {
		return
	}
	now := s.opts.Now()
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = now
	}
	queue := append(s.pending[u.SceneID], pendingUpdate{update: u, received: now})
	if len(queue) > maxPendingPerScene {
		queue = queue[len(queue)-maxPendingPerScene:]
	}
	s.pending[u.SceneID] = queue
}

// flushPendingLocked applies buffered updates whose scene is now known and
// drops the ones that outlived the TTL.
func (s *Store) flushPendingLocked() bool {
	if len(s.pending) == 0 {
		return false
	}
	now := s.opts.Now()
	changed := false
	for id, queue := range s.pending {
		if _, removed := s.tombstones[id]; removed {
			delete(s.pending, id)
			continue
		}
		if _, known := s.scenes[id]; known {
			delete(s.pending, id)
			for _, p := range queue {
				if now.Sub(p.received) >= s.opts.PendingUpdateTTL {
					continue
				}
				if c, _ := s.applyLocked(p.update); c {
					changed = true
				}
			}
			continue
		}
		kept := queue[:0]
		for _, p := range queue {
			if now.Sub(p.received) < s.opts.PendingUpdateTTL {
				kept = append(kept, p)
			}
		}
		if len(kept) < len(queue) {
			s.loggerLocked().Debug("dropping unresolved updates",
				logging.String(logging.FieldSceneID, id),
				logging.Int("dropped", len(queue)-len(kept)),
			)
		}
		if len(kept) == 0 {
			delete(s.pending, id)
		} else {
			s.pending[id] = kept
		}
	}
	return changed
}

// Pending returns the number of buffered updates.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.pending {
		n += len(q)
	}
	return n
}

func (s *Store) stopWatchingLocked(sceneID string) {
	if t, ok := s.grace[sceneID]; ok {
		t.Stop()
		delete(s.grace, sceneID)
	}
	s.poller.Stop(sceneID)
}

func (s *Store) beginInflightLocked(sceneID string, phase scene.Phase) {
	m := s.inflight[sceneID]
	if m == nil {
		m = make(map[scene.Phase]int)
		s.inflight[sceneID] = m
	}
	m[phase]++
}

func (s *Store) endInflightLocked(sceneID string, phase scene.Phase) {
	m := s.inflight[sceneID]
	if m == nil {
		return
	}
	if m[phase] > 1 {
		m[phase]--
		return
	}
	delete(m, phase)
	if len(m) == 0 {
		delete(s.inflight, sceneID)
	}
}

// trackLocked returns the job tracker for a scene, creating it.
func (s *Store) trackLocked(sceneID string) *jobTrack {
	t := s.jobs[sceneID]
	if t == nil {
		t = &jobTrack{superseded: make(map[string]struct{})}
		s.jobs[sceneID] = t
	}
	return t
}

// supersedeLocked marks the current video job stale ahead of a new request.
func (s *Store) supersedeLocked(sceneID string) *jobTrack {
	t := s.trackLocked(sceneID)
	if t.current != "" {
		t.superseded[t.current] = struct{}{}
		t.current = ""
	}
	t.awaiting = true
	t.heldTerminal = false
	return t
}

// acceptJobLocked records the job that now owns the scene's video phase. A
// terminal status that arrived unattributed before the acceptance is
// confirmed by polling.
func (s *Store) acceptJobLocked(sceneID string, ticket scene.JobTicket) {
	t := s.trackLocked(sceneID)
	t.awaiting = false
	if ticket.JobID != "" {
		delete(t.superseded, ticket.JobID)
		t.current = ticket.JobID
	}
	if t.heldTerminal {
		t.heldTerminal = false
		s.loggerLocked().Debug("video status arrived before job acceptance; polling",
			logging.String(logging.FieldSceneID, sceneID),
			logging.String("job_id", ticket.JobID),
		)
		s.poller.Start(s.ctx, sceneID)
	}
}

// abandonJobLocked clears the wait for an acceptance that will not come.
func (s *Store) abandonJobLocked(sceneID string) {
	t := s.trackLocked(sceneID)
	t.awaiting = false
	t.heldTerminal = false
}

// resubmitVideo reissues a video job after an asynchronous content-policy
// rejection.
func (s *Store) resubmitVideo(session uint64, storyboardID, sceneID string) {
	ctx := services.WithSceneID(services.WithStoryboardID(s.ctx, storyboardID), sceneID)
	if err := failure.Sleep(ctx, s.opts.ContentPolicyRetryDelay); err != nil {
		return
	}
	s.mu.Lock()
	if !s.liveSceneLocked(session, sceneID) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ticket, err := s.backend.RegenerateVideo(ctx, storyboardID, sceneID)

	s.mu.Lock()
	if !s.liveSceneLocked(session, sceneID) {
		s.mu.Unlock()
		return
	}
	var snap *Snapshot
	if err != nil {
		s.abandonJobLocked(sceneID)
		if s.failPhaseLocked(sceneID, scene.PhaseVideo, failure.UserMessage(err)) {
			snap = s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourceLocal})
		}
		logging.WithContext(ctx, s.logger).Warn("video resubmission failed",
			logging.String(logging.FieldEventType, "video_resubmit_failed"),
			logging.Error(err),
		)
	} else {
		s.acceptJobLocked(sceneID, ticket)
	}
	s.watchLocked(sceneID)
	s.mu.Unlock()
	s.publish(snap)
}

// liveSceneLocked reports whether sceneID still exists in the session that
// started an asynchronous operation.
func (s *Store) liveSceneLocked(session uint64, sceneID string) bool {
	if s.closed || s.session != session {
		return false
	}
	_, ok := s.scenes[sceneID]
	return ok
}

// failPhaseLocked marks a phase as failed with a user-facing message.
func (s *Store) failPhaseLocked(sceneID string, phase scene.Phase, message string) bool {
	sc, ok := s.scenes[sceneID]
	if !ok {
		return false
	}
	switch phase {
	case scene.PhaseText:
		sc.Generation.Text = scene.StatusError
	case scene.PhaseImage:
		sc.Generation.Image = scene.StatusError
	case scene.PhaseVideo:
		sc.Generation.Video = scene.StatusError
	}
	sc.ErrorMessage = message
	s.scenes[sceneID] = sc
	if !sc.Generation.Generating() {
		s.stopWatchingLocked(sceneID)
	}
	return true
}

// pollExhausted marks every generating phase of the scene as failed so that
// nothing stays stuck in generating after polling gives up.
func (s *Store) pollExhausted(sceneID string, attempts int, lastErr error) {
	s.mu.Lock()
	sc, ok := s.scenes[sceneID]
	if s.closed || !ok || !sc.Generation.Generating() {
		s.mu.Unlock()
		return
	}
	msg := failure.StatusUnknownMessage()
	for _, phase := range []scene.Phase{scene.PhaseText, scene.PhaseImage, scene.PhaseVideo} {
		if sc.Generation.Get(phase) == scene.StatusGenerating && s.inflight[sceneID][phase] == 0 {
			s.failPhaseLocked(sceneID, phase, msg)
		}
	}
	if t := s.jobs[sceneID]; t != nil {
		t.retries = 0
	}
	snap := s.commitLocked(Change{Kind: ChangeScene, SceneID: sceneID, Source: scene.SourcePoll})
	s.loggerLocked().Warn("scene status unknown after polling",
		logging.String(logging.FieldSceneID, sceneID),
		logging.Int("attempts", attempts),
		logging.Error(lastErr),
		logging.String(logging.FieldEventType, "poll_exhausted"),
	)
	s.mu.Unlock()
	s.publish(snap)
}

// watchLocked makes sure a generating scene will hear about its result:
// through the live channel, or by polling when push is unavailable.
func (s *Store) watchLocked(sceneID string) {
	sc, ok := s.scenes[sceneID]
	if !ok || !sc.Generation.Generating() {
		return
	}
	switch s.push.state {
	case ChannelDisabled, ChannelPolling:
		s.poller.Start(s.ctx, sceneID)
	case ChannelConnecting, ChannelBackoff:
		if !s.push.everLive {
			s.poller.Start(s.ctx, sceneID)
		}
	}
}

// ensureChannel opens the push channel lazily when generation starts.
func (s *Store) ensureChannel() {
	s.mu.Lock()
	state := s.push.state
	s.mu.Unlock()
	if state == ChannelIdle || state == ChannelComplete {
		s.openChannel(false)
	}
}

// openChannel connects the push channel for the current storyboard. On
// failure it schedules a reconnect after the fixed backoff, and falls back
// to polling when push has never been established or has failed too often.
func (s *Store) openChannel(resync bool) {
	s.mu.Lock()
	if s.closed || s.storyboard.ID == "" {
		s.mu.Unlock()
		return
	}
	switch s.push.state {
	case ChannelDisabled:
		s.pollGeneratingLocked()
		s.mu.Unlock()
		return
	case ChannelConnecting, ChannelLive, ChannelPolling:
		s.mu.Unlock()
		return
	}
	// A completed stream may still be open under the previous epoch, and
	// Connect would keep it; start a fresh subscription instead.
	stale := s.push.state == ChannelComplete
	s.push.epoch++
	epoch := s.push.epoch
	s.push.state = ChannelConnecting
	s.push.resync = s.push.resync || resync
	storyboardID := s.storyboard.ID
	s.mu.Unlock()

	if stale {
		s.channel.Disconnect()
	}
	ctx := services.WithStoryboardID(s.ctx, storyboardID)
	err := s.channel.Connect(ctx, storyboardID, s.eventHandler(epoch), s.errorHandler(epoch))

	s.mu.Lock()
	if s.push.epoch != epoch || s.closed {
		s.mu.Unlock()
		return
	}
	var snap *Snapshot
	if err != nil {
		snap = s.channelFailedLocked(err)
	} else if s.push.state == ChannelConnecting {
		snap = s.channelLiveLocked()
	}
	s.mu.Unlock()
	s.publish(snap)
}

func (s *Store) eventHandler(epoch uint64) func(pushchannel.Event) {
	return func(event pushchannel.Event) {
		switch ev := event.(type) {
		case pushchannel.SceneUpdateEvent:
			s.mu.Lock()
			current := s.push.epoch == epoch
			if current {
				s.lastPush[ev.Update.SceneID] = s.opts.Now()
			}
			s.mu.Unlock()
			if current {
				s.Submit(ev.Update)
			}
		case pushchannel.ConnectedEvent:
			s.mu.Lock()
			var snap *Snapshot
			if s.push.epoch == epoch && s.push.state == ChannelConnecting {
				snap = s.channelLiveLocked()
			}
			s.mu.Unlock()
			s.publish(snap)
		case pushchannel.CompleteEvent:
			s.mu.Lock()
			var snap *Snapshot
			if s.push.epoch == epoch {
				s.push.state = ChannelComplete
				snap = s.commitLocked(Change{Kind: ChangeChannel})
				s.loggerLocked().Debug("push stream complete")
			}
			s.mu.Unlock()
			s.publish(snap)
		case pushchannel.ErrorEvent:
			s.handleErrorEvent(epoch, ev)
		}
	}
}

func (s *Store) handleErrorEvent(epoch uint64, ev pushchannel.ErrorEvent) {
	s.mu.Lock()
	if s.push.epoch != epoch {
		s.mu.Unlock()
		return
	}
	logger := s.loggerLocked()
	sc, ok := s.scenes[ev.SceneID]
	if ev.SceneID == "" || !ok {
		logger.Warn("push channel reported an error",
			logging.String(logging.FieldEventType, "push_error_event"),
			logging.String("code", ev.Code),
			logging.String("message", ev.Message),
		)
		s.mu.Unlock()
		return
	}
	u := scene.Update{SceneID: ev.SceneID, Error: ev.Message, ErrorCode: ev.Code, Source: scene.SourcePush, ReceivedAt: s.opts.Now()}
	switch {
	case sc.Generation.Video == scene.StatusGenerating:
		u.VideoStatus = scene.StatusError
	case sc.Generation.Image == scene.StatusGenerating:
		u.ImageStatus = scene.StatusError
	case sc.Generation.Text == scene.StatusGenerating:
		u.TextStatus = scene.StatusError
	default:
		logger.Debug("error event for idle scene", logging.String(logging.FieldSceneID, ev.SceneID), logging.String("message", ev.Message))
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Submit(u)
}

func (s *Store) errorHandler(epoch uint64) func(error) {
	return func(err error) {
		s.mu.Lock()
		if s.push.epoch != epoch || s.closed {
			s.mu.Unlock()
			return
		}
		var snap *Snapshot
		if s.push.state == ChannelComplete {
			s.push.state = ChannelIdle
			snap = s.commitLocked(Change{Kind: ChangeChannel})
		} else {
			snap = s.channelFailedLocked(err)
		}
		s.mu.Unlock()
		s.publish(snap)
	}
}

func (s *Store) channelLiveLocked() *Snapshot {
	s.push.state = ChannelLive
	s.push.failures = 0
	s.push.everLive = true
	if s.push.resync {
		s.push.resync = false
		go s.resync(s.session, s.push.epoch)
	}
	s.loggerLocked().Debug("push channel live")
	return s.commitLocked(Change{Kind: ChangeChannel})
}

func (s *Store) channelFailedLocked(err error) *Snapshot {
	s.push.failures++
	logger := s.loggerLocked()
	var channelErr *failure.ChannelError
	if !errors.As(err, &channelErr) {
		err = &failure.ChannelError{StoryboardID: s.storyboard.ID, Err: err}
	}
	if s.push.failures >= s.opts.MaxReconnectFailures {
		s.push.state = ChannelPolling
		logger.Warn("push channel unavailable; falling back to polling",
			logging.String(logging.FieldEventType, "push_fallback"),
			logging.Int("failures", s.push.failures),
			logging.Error(err),
		)
		s.pollGeneratingLocked()
		return s.commitLocked(Change{Kind: ChangeChannel})
	}
	s.push.state = ChannelBackoff
	s.push.resync = true
	epoch := s.push.epoch
	if s.push.timer != nil {
		s.push.timer.Stop()
	}
	s.push.timer = time.AfterFunc(s.opts.ReconnectBackoff, func() { s.reconnect(epoch) })
	logger.Debug("push channel dropped; reconnect scheduled",
		logging.Duration("backoff", s.opts.ReconnectBackoff),
		logging.Int("failures", s.push.failures),
		logging.Error(err),
	)
	if !s.push.everLive {
		s.pollGeneratingLocked()
	}
	return s.commitLocked(Change{Kind: ChangeChannel})
}

func (s *Store) reconnect(epoch uint64) {
	s.mu.Lock()
	relevant := !s.closed && s.push.epoch == epoch && s.push.state == ChannelBackoff
	s.mu.Unlock()
	if relevant {
		s.openChannel(true)
	}
}

func (s *Store) pollGeneratingLocked() {
	for id, sc := range s.scenes {
		if sc.Generation.Generating() && !sc.Temporary {
			s.poller.Start(s.ctx, id)
		}
	}
}

// resync re-fetches the storyboard after a reconnect and submits every known
// scene, since the stream does not resume where it left off.
func (s *Store) resync(session, epoch uint64) {
	s.mu.Lock()
	storyboardID := s.storyboard.ID
	s.mu.Unlock()
	ctx := services.WithStoryboardID(s.ctx, storyboardID)
	state, err := s.backend.GetStoryboard(ctx, storyboardID)
	if err != nil {
		logging.WithContext(ctx, s.logger).Warn("resync after reconnect failed",
			logging.String(logging.FieldEventType, "resync_failed"),
			logging.Error(err),
		)
		return
	}
	s.mu.Lock()
	current := s.session == session && s.push.epoch == epoch && !s.closed
	s.mu.Unlock()
	if !current {
		return
	}
	now := s.opts.Now()
	for _, sc := range state.Scenes {
		s.mu.Lock()
		_, known := s.scenes[sc.ID]
		s.mu.Unlock()
		if !known {
			continue
		}
		s.Submit(updateFromScene(sc, scene.SourceResync, now))
	}
}

func updateFromScene(sc scene.Scene, source scene.Source, now time.Time) scene.Update {
	return scene.Update{
		SceneID:        sc.ID,
		Phase:          sc.Phase,
		TextStatus:     sc.Generation.Text,
		ImageStatus:    sc.Generation.Image,
		VideoStatus:    sc.Generation.Video,
		ImageURL:       sc.ImageURL,
		VideoURL:       sc.VideoURL,
		SourceDuration: sc.SourceDuration,
		Error:          sc.ErrorMessage,
		Source:         source,
		ReceivedAt:     now,
	}
}

// armGraceLocked starts polling a generating scene if no push update for it
// arrives within the grace period.
func (s *Store) armGraceLocked(sceneID string) {
	if _, ok := s.grace[sceneID]; ok {
		return
	}
	session := s.session
	armed := s.opts.Now()
	s.grace[sceneID] = time.AfterFunc(s.opts.GracePeriod, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.session != session {
			return
		}
		delete(s.grace, sceneID)
		sc, ok := s.scenes[sceneID]
		if !ok || !sc.Generation.Generating() {
			return
		}
		if last, ok := s.lastPush[sceneID]; ok && !last.Before(armed) {
			return
		}
		s.loggerLocked().Debug("no push update within grace period; polling",
			logging.String(logging.FieldSceneID, sceneID),
			logging.Duration("grace", s.opts.GracePeriod),
		)
		s.poller.Start(s.ctx, sceneID)
	})
}
