package jobclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"reel/internal/failure"
	"reel/internal/services"
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func newStatusError(status int, payload []byte, retryAfter time.Duration) *StatusError {
	e := &StatusError{StatusCode: status, RetryAfter: retryAfter}
	var body errorBody
	if err := json.Unmarshal(payload, &body); err == nil {
		e.Code = strings.TrimSpace(body.Code)
		e.Message = strings.TrimSpace(body.Error)
		if e.Message == "" {
			e.Message = strings.TrimSpace(body.Message)
		}
	}
	if e.Message == "" {
		text := strings.TrimSpace(string(payload))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		e.Message = text
	}
	return e
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("http %d", e.StatusCode)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Transient reports whether the response is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// ContentPolicy reports whether the backend refused on content-policy grounds.
func (e *StatusError) ContentPolicy() bool {
	return failure.ClassifyMessage(e.Code, e.Message) == failure.KindContentPolicy
}

func (e *StatusError) marker() error {
	switch {
	case e.ContentPolicy():
		return services.ErrContentPolicy
	case e.Transient():
		return services.ErrTransient
	case e.StatusCode == http.StatusNotFound:
		return services.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return services.ErrConflict
	case e.StatusCode == http.StatusBadRequest, e.StatusCode == http.StatusUnprocessableEntity:
		return services.ErrValidation
	default:
		return services.ErrExternal
	}
}

// classify tags err with the marker the failure package understands.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if services.Marker(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("jobclient: %s: %w", op, err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return services.Wrap(statusErr.marker(), "jobclient", op, "", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, "jobclient", op, "network", err)
	}
	return services.Wrap(services.ErrExternal, "jobclient", op, "", err)
}
