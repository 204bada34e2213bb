package failure

import (
	"context"
	"errors"
	"net"
	"strings"

	"reel/internal/services"
)

// Kind is the retry class of a failure.
type Kind int

const (
	KindFatal Kind = iota
	KindTransient
	KindContentPolicy
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindContentPolicy:
		return "content_policy"
	default:
		return "fatal"
	}
}

// CodeContentPolicy is the backend error code for a model refusal.
const CodeContentPolicy = "content_policy"

var contentPolicyHints = []string{
	"content policy",
	"content_policy",
	"safety system",
	"moderation",
	"prohibited content",
}

// Classify maps an error to its Kind. Context cancellation is fatal: the
// caller gave up, so nothing should retry on its behalf.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}
	switch services.Marker(err) {
	case services.ErrContentPolicy:
		return KindContentPolicy
	case services.ErrTransient:
		return KindTransient
	case services.ErrValidation, services.ErrNotFound, services.ErrConflict, services.ErrExternal:
		return KindFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return ClassifyMessage("", err.Error())
}

// ClassifyMessage classifies a failure reported as data, such as an error
// field on a push event.
func ClassifyMessage(code, message string) Kind {
	code = strings.ToLower(strings.TrimSpace(code))
	switch code {
	case CodeContentPolicy, "safety", "moderation":
		return KindContentPolicy
	case "timeout", "unavailable", "rate_limited":
		return KindTransient
	}
	lower := strings.ToLower(message)
	for _, hint := range contentPolicyHints {
		if strings.Contains(lower, hint) {
			return KindContentPolicy
		}
	}
	return KindFatal
}

// IsContentPolicy reports whether err is a content-policy rejection.
func IsContentPolicy(err error) bool {
	return Classify(err) == KindContentPolicy
}
