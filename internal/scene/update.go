package scene

import (
	"fmt"
	"time"
)

// Source identifies which producer proposed an update.
type Source string

const (
	SourcePush   Source = "push"
	SourcePoll   Source = "poll"
	SourceResync Source = "resync"
	SourceLocal  Source = "local"
)

// Update is a proposed change to one scene. Empty fields mean "unchanged".
type Update struct {
	SceneID        string
	Phase          Phase
	TextStatus     Status
	ImageStatus    Status
	VideoStatus    Status
	ImageURL       string
	VideoURL       string
	SourceDuration float64
	Error          string
	ErrorCode      string
	JobID          string
	Source         Source
	ReceivedAt     time.Time
}

// Validate rejects updates that could never be applied.
func (u Update) Validate() error {
	if u.SceneID == "" {
		return fmt.Errorf("update: scene id required")
	}
	if u.Phase != "" && !u.Phase.Valid() {
		return fmt.Errorf("update %s: unknown phase %q", u.SceneID, u.Phase)
	}
	for _, st := range []Status{u.TextStatus, u.ImageStatus, u.VideoStatus} {
		if st == "" {
			continue
		}
		if _, ok := ParseStatus(string(st)); !ok {
			return fmt.Errorf("update %s: unknown status %q", u.SceneID, st)
		}
	}
	return nil
}

// Terminal reports whether the update carries no in-flight status.
func (u Update) Terminal() bool {
	return u.TextStatus != StatusGenerating && u.ImageStatus != StatusGenerating && u.VideoStatus != StatusGenerating
}

// ApplyTo merges the update into s and reports whether anything changed.
// Phase never moves backwards. The error message is cleared once no phase is
// in error, and a new video invalidates the previous trim window.
func (u Update) ApplyTo(s Scene) (Scene, bool) {
	next := s.Clone()
	if u.Phase.Valid() {
		next.Phase = MaxPhase(next.Phase, u.Phase)
	}
	if u.TextStatus != "" {
		next.Generation.Text = u.TextStatus
	}
	if u.ImageStatus != "" {
		next.Generation.Image = u.ImageStatus
	}
	if u.VideoStatus != "" {
		next.Generation.Video = u.VideoStatus
	}
	if u.ImageURL != "" {
		next.ImageURL = u.ImageURL
	}
	if u.VideoURL != "" && u.VideoURL != next.VideoURL {
		next.VideoURL = u.VideoURL
		next.Trim = nil
	}
	if u.SourceDuration > 0 {
		next.SourceDuration = u.SourceDuration
	}
	if next.Generation.Image == StatusComplete || next.Generation.Video == StatusComplete {
		next.Phase = MaxPhase(next.Phase, PhaseImage)
	}
	if next.Generation.Video == StatusComplete {
		next.Phase = MaxPhase(next.Phase, PhaseVideo)
	}

	if HasError(next.Generation) {
		if u.Error != "" {
			next.ErrorMessage = u.Error
		}
	} else {
		next.ErrorMessage = ""
	}
	return next, !Equal(s, next)
}

// HasError reports whether any phase is in the error state.
func HasError(g GenerationStatus) bool {
	return g.Text == StatusError || g.Image == StatusError || g.Video == StatusError
}

// Equal compares two scenes field by field.
func Equal(a, b Scene) bool {
	if (a.Trim == nil) != (b.Trim == nil) {
		return false
	}
	if a.Trim != nil && *a.Trim != *b.Trim {
		return false
	}
	a.Trim, b.Trim = nil, nil
	return a == b
}
