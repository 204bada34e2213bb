package scene

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Phase is the furthest generation stage a scene has reached.
type Phase string

const (
	PhaseText  Phase = "text"
	PhaseImage Phase = "image"
	PhaseVideo Phase = "video"
)

var phaseRank = map[Phase]int{
	PhaseText:  1,
	PhaseImage: 2,
	PhaseVideo: 3,
}

// ParsePhase converts a string into a known Phase.
func ParsePhase(value string) (Phase, bool) {
	p := Phase(strings.ToLower(strings.TrimSpace(value)))
	_, ok := phaseRank[p]
	return p, ok
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

// Before reports whether p is an earlier stage than other.
func (p Phase) Before(other Phase) bool {
	return phaseRank[p] < phaseRank[other]
}

// MaxPhase returns the later of two phases; unknown phases rank lowest.
func MaxPhase(a, b Phase) Phase {
	if phaseRank[b] > phaseRank[a] {
		return b
	}
	return a
}

// Status is the finite state of a single generation phase.
type Status string

const (
	StatusNone       Status = "none"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case StatusNone, StatusGenerating, StatusComplete, StatusError:
		return s, true
	default:
		return "", false
	}
}

// IsTerminal reports whether the status ends a generation attempt.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// orNone maps the zero value to StatusNone so stored scenes never carry "".
func (s Status) orNone() Status {
	if s == "" {
		return StatusNone
	}
	return s
}

// GenerationStatus holds one finite status per phase.
type GenerationStatus struct {
	Text  Status `json:"text,omitempty"`
	Image Status `json:"image"`
	Video Status `json:"video"`
}

// Get returns the status of the given phase.
func (g GenerationStatus) Get(p Phase) Status {
	switch p {
	case PhaseText:
		return g.Text.orNone()
	case PhaseImage:
		return g.Image.orNone()
	case PhaseVideo:
		return g.Video.orNone()
	default:
		return StatusNone
	}
}

// Generating reports whether any phase is in flight.
func (g GenerationStatus) Generating() bool {
	return g.Text == StatusGenerating || g.Image == StatusGenerating || g.Video == StatusGenerating
}

// AssetKind names an overlay slot; at most one asset per kind is active.
type AssetKind string

const (
	AssetBrand      AssetKind = "brand"
	AssetCharacter  AssetKind = "character"
	AssetBackground AssetKind = "background"
)

// ParseAssetKind converts a string into a known AssetKind.
func ParseAssetKind(value string) (AssetKind, bool) {
	k := AssetKind(strings.ToLower(strings.TrimSpace(value)))
	switch k {
	case AssetBrand, AssetCharacter, AssetBackground:
		return k, true
	default:
		return "", false
	}
}

// Trim is a window over the generated video, in seconds.
type Trim struct {
	Start float64 `json:"trimStart"`
	End   float64 `json:"trimEnd"`
}

// Scene is one timed segment of the output video.
type Scene struct {
	ID                string           `json:"id"`
	Text              string           `json:"text"`
	DurationSeconds   float64          `json:"durationSeconds"`
	Phase             Phase            `json:"phase"`
	Generation        GenerationStatus `json:"generationStatus"`
	ImageURL          string           `json:"imageUrl,omitempty"`
	VideoURL          string           `json:"videoUrl,omitempty"`
	SourceDuration    float64          `json:"sourceDuration,omitempty"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`
	BrandAssetID      string           `json:"brandAssetId,omitempty"`
	CharacterAssetID  string           `json:"characterAssetId,omitempty"`
	BackgroundAssetID string           `json:"backgroundAssetId,omitempty"`
	Trim              *Trim            `json:"trim,omitempty"`
	// Temporary marks a client-side placeholder awaiting a server identifier.
	Temporary bool `json:"-"`
}

// Clone returns a deep copy.
func (s Scene) Clone() Scene {
	if s.Trim != nil {
		t := *s.Trim
		s.Trim = &t
	}
	return s
}

// Asset returns the active asset for kind, or "".
func (s Scene) Asset(kind AssetKind) string {
	switch kind {
	case AssetBrand:
		return s.BrandAssetID
	case AssetCharacter:
		return s.CharacterAssetID
	case AssetBackground:
		return s.BackgroundAssetID
	default:
		return ""
	}
}

// SetAsset replaces the active asset for kind; an empty id disables it.
func (s *Scene) SetAsset(kind AssetKind, assetID string) {
	switch kind {
	case AssetBrand:
		s.BrandAssetID = assetID
	case AssetCharacter:
		s.CharacterAssetID = assetID
	case AssetBackground:
		s.BackgroundAssetID = assetID
	}
}

// Normalize fills zero-valued statuses and a missing phase.
func (s *Scene) Normalize() {
	if s.Phase == "" {
		s.Phase = PhaseText
	}
	s.Generation.Image = s.Generation.Image.orNone()
	s.Generation.Video = s.Generation.Video.orNone()
	if s.Generation.Text == "" {
		s.Generation.Text = StatusComplete
		if strings.TrimSpace(s.Text) == "" {
			s.Generation.Text = StatusNone
		}
	}
}

// Validate checks the per-scene invariants.
func (s Scene) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("scene: id required")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("scene %s: unknown phase %q", s.ID, s.Phase)
	}
	for name, st := range map[string]Status{"text": s.Generation.Text, "image": s.Generation.Image, "video": s.Generation.Video} {
		if _, ok := ParseStatus(string(st.orNone())); !ok {
			return fmt.Errorf("scene %s: unknown %s status %q", s.ID, name, st)
		}
	}
	if s.Generation.Video == StatusGenerating && s.Generation.Image.orNone() != StatusComplete {
		return fmt.Errorf("scene %s: video cannot be generating while image is %s", s.ID, s.Generation.Image.orNone())
	}
	if s.Trim != nil {
		if err := s.Trim.Check(s.SourceDuration); err != nil {
			return fmt.Errorf("scene %s: %w", s.ID, err)
		}
	}
	return nil
}

// Check validates the trim window against the source duration. A zero
// source duration means the bound is unknown and only ordering is checked.
func (t Trim) Check(sourceDuration float64) error {
	if t.Start < 0 {
		return fmt.Errorf("trim start %.2f is negative", t.Start)
	}
	if t.End <= t.Start {
		return fmt.Errorf("trim end %.2f must be after start %.2f", t.End, t.Start)
	}
	if sourceDuration > 0 && t.End > sourceDuration {
		return fmt.Errorf("trim end %.2f exceeds source duration %.2f", t.End, sourceDuration)
	}
	return nil
}

// Storyboard is the aggregate root.
type Storyboard struct {
	ID            string          `json:"storyboardId"`
	CreativeBrief json.RawMessage `json:"creativeBrief,omitempty"`
	Mood          string          `json:"mood,omitempty"`
	SceneOrder    []string        `json:"sceneOrder"`
}

// Clone returns a deep copy.
func (b Storyboard) Clone() Storyboard {
	b.SceneOrder = append([]string(nil), b.SceneOrder...)
	if b.CreativeBrief != nil {
		b.CreativeBrief = append(json.RawMessage(nil), b.CreativeBrief...)
	}
	return b
}

// State is a storyboard with its scenes, as returned by whole-storyboard
// backend calls.
type State struct {
	Storyboard Storyboard `json:"storyboard"`
	Scenes     []Scene    `json:"scenes"`
}

// Brief is the creative brief used to initialize a storyboard. Fields beyond
// the ones the synchronizer reads travel opaquely in Extra.
type Brief struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description"`
	SceneCount  int             `json:"sceneCount,omitempty"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// JobTicket is the backend's acknowledgement of an asynchronous video job.
type JobTicket struct {
	Accepted bool   `json:"jobAccepted"`
	JobID    string `json:"jobId,omitempty"`
}

// StatusReport is the result of a single status poll for a scene.
type StatusReport struct {
	SceneID        string           `json:"sceneId"`
	Phase          Phase            `json:"phase"`
	Generation     GenerationStatus `json:"generationStatus"`
	ImageURL       string           `json:"imageUrl,omitempty"`
	VideoURL       string           `json:"videoUrl,omitempty"`
	SourceDuration float64          `json:"sourceDuration,omitempty"`
	Error          string           `json:"error,omitempty"`
	ErrorCode      string           `json:"errorCode,omitempty"`
	JobID          string           `json:"jobId,omitempty"`
}

// Terminal reports whether no phase in the report is still generating.
func (r StatusReport) Terminal() bool {
	return !r.Generation.Generating()
}

// Update converts the report into a proposed store update.
func (r StatusReport) Update(sceneID string) Update {
	if sceneID == "" {
		sceneID = r.SceneID
	}
	return Update{
		SceneID:        sceneID,
		Phase:          r.Phase,
		TextStatus:     r.Generation.Text,
		ImageStatus:    r.Generation.Image,
		VideoStatus:    r.Generation.Video,
		ImageURL:       r.ImageURL,
		VideoURL:       r.VideoURL,
		SourceDuration: r.SourceDuration,
		Error:          r.Error,
		ErrorCode:      r.ErrorCode,
		JobID:          r.JobID,
		Source:         SourcePoll,
	}
}
