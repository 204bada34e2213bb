package failure

import (
	"errors"
	"fmt"
	"strings"
)

// InitializationError reports a rejected storyboard brief.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize storyboard: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TextGenerationError reports a failed text generation or text edit.
type TextGenerationError struct {
	SceneID string
	Err     error
}

func (e *TextGenerationError) Error() string {
	return fmt.Sprintf("scene %s: text generation: %v", e.SceneID, e.Err)
}

func (e *TextGenerationError) Unwrap() error { return e.Err }

// ImageGenerationError reports a failed image generation.
type ImageGenerationError struct {
	SceneID string
	Err     error
}

func (e *ImageGenerationError) Error() string {
	return fmt.Sprintf("scene %s: image generation: %v", e.SceneID, e.Err)
}

func (e *ImageGenerationError) Unwrap() error { return e.Err }

// VideoGenerationError reports a failed video job submission or a terminal
// video failure.
type VideoGenerationError struct {
	SceneIDs      []string
	ContentPolicy bool
	Attempts      int
	Err           error
}

func (e *VideoGenerationError) Error() string {
	label := "video generation"
	if e.ContentPolicy {
		label = "video generation (content policy)"
	}
	msg := fmt.Sprintf("scene %s: %s", strings.Join(e.SceneIDs, ","), label)
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *VideoGenerationError) Unwrap() error { return e.Err }

// DurationUpdateError reports a failed duration change.
type DurationUpdateError struct {
	SceneID string
	Err     error
}

func (e *DurationUpdateError) Error() string {
	return fmt.Sprintf("scene %s: update duration: %v", e.SceneID, e.Err)
}

func (e *DurationUpdateError) Unwrap() error { return e.Err }

// AssetUpdateError reports a failed overlay asset or trim change.
type AssetUpdateError struct {
	SceneID string
	Field   string
	Err     error
}

func (e *AssetUpdateError) Error() string {
	return fmt.Sprintf("scene %s: update %s: %v", e.SceneID, e.Field, e.Err)
}

func (e *AssetUpdateError) Unwrap() error { return e.Err }

// Structural edit operations.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReorder = "reorder"
)

// StructuralEditError reports a failed add, remove or reorder. When
// ReloadRequired is set the local collection may disagree with the server.
type StructuralEditError struct {
	Op             string
	SceneID        string
	ReloadRequired bool
	Err            error
}

func (e *StructuralEditError) Error() string {
	target := ""
	if e.SceneID != "" {
		target = " " + e.SceneID
	}
	msg := fmt.Sprintf("%s scene%s: %v", e.Op, target, e.Err)
	if e.ReloadRequired {
		msg += " (reload required)"
	}
	return msg
}

func (e *StructuralEditError) Unwrap() error { return e.Err }

// ChannelError reports a push channel transport failure. It is never shown
// to end users.
type ChannelError struct {
	StoryboardID string
	Err          error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("push channel %s: %v", e.StoryboardID, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ReloadRequired reports whether err asks the caller to reload the storyboard.
func ReloadRequired(err error) bool {
	var structural *StructuralEditError
	return errors.As(err, &structural) && structural.ReloadRequired
}
