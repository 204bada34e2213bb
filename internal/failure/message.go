package failure

import "strings"

const (
	msgContentPolicy = "The model declined this scene. Adjust the scene description and try again."
	msgTransient     = "The service is temporarily unavailable. Try again in a moment."
	msgStatusUnknown = "Generation status is unknown. Retry to check again."
	msgGeneric       = "Generation failed. Try again."
)

// StatusUnknownMessage is recorded when polling gives up on a scene.
func StatusUnknownMessage() string { return msgStatusUnknown }

// UserMessage renders the per-scene errorMessage for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case KindContentPolicy:
		return msgContentPolicy
	case KindTransient:
		return msgTransient
	}
	return msgGeneric
}

// MessageFor renders the user-facing text for a failure reported as data.
func MessageFor(code, message string) string {
	switch ClassifyMessage(code, message) {
	case KindContentPolicy:
		return msgContentPolicy
	case KindTransient:
		return msgTransient
	}
	if message = strings.TrimSpace(message); message != "" {
		return message
	}
	return msgGeneric
}
