package failure_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"reel/internal/failure"
	"reel/internal/services"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"content policy marker", services.Wrap(services.ErrContentPolicy, "jobclient", "video", "refused", nil), failure.KindContentPolicy},
		{"transient marker", services.Wrap(services.ErrTransient, "jobclient", "image", "503", nil), failure.KindTransient},
		{"validation marker", services.Wrap(services.ErrValidation, "reconcile", "approve", "missing image", nil), failure.KindFatal},
		{"wrapped in typed error", &failure.VideoGenerationError{SceneIDs: []string{"s1"}, Err: services.Wrap(services.ErrContentPolicy, "", "", "x", nil)}, failure.KindContentPolicy},
		{"canceled", fmt.Errorf("call: %w", context.Canceled), failure.KindFatal},
		{"message hint", errors.New("rejected by safety system"), failure.KindContentPolicy},
		{"plain", errors.New("boom"), failure.KindFatal},
	}
	for _, tc := range cases {
		if got := failure.Classify(tc.err); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestClassifyMessage(t *testing.T) {
	if got := failure.ClassifyMessage("content_policy", ""); got != failure.KindContentPolicy {
		t.Fatalf("expected content policy, got %s", got)
	}
	if got := failure.ClassifyMessage("", "Output flagged by moderation"); got != failure.KindContentPolicy {
		t.Fatalf("expected content policy from message, got %s", got)
	}
	if got := failure.ClassifyMessage("timeout", ""); got != failure.KindTransient {
		t.Fatalf("expected transient, got %s", got)
	}
}

func TestUserMessageDistinguishesContentPolicy(t *testing.T) {
	policy := failure.UserMessage(services.Wrap(services.ErrContentPolicy, "", "", "refused", nil))
	generic := failure.UserMessage(errors.New("boom"))
	if policy == generic {
		t.Fatal("content policy failures should have distinct guidance")
	}
	if !strings.Contains(strings.ToLower(policy), "description") {
		t.Fatalf("expected description guidance, got %q", policy)
	}
	if failure.UserMessage(nil) != "" {
		t.Fatal("nil error should render empty message")
	}
}

func TestStructuralEditErrorReload(t *testing.T) {
	err := fmt.Errorf("store: %w", &failure.StructuralEditError{Op: failure.OpRemove, SceneID: "s2", ReloadRequired: true, Err: errors.New("500")})
	if !failure.ReloadRequired(err) {
		t.Fatal("expected reload required")
	}
	if !strings.Contains(err.Error(), "reload required") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRetryContentPolicySucceedsOnThirdAttempt(t *testing.T) {
	var slept []time.Duration
	policy := failure.RetryPolicy{
		Extra: 2,
		Delay: 2 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	attempts, err := failure.RetryContentPolicy(context.Background(), policy, func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return services.Wrap(services.ErrContentPolicy, "jobclient", "video", "refused", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 || len(slept) != 2 {
		t.Fatalf("expected 3 attempts and 2 sleeps, got %d and %d", attempts, len(slept))
	}
}

func TestRetryContentPolicyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	_, err := failure.RetryContentPolicy(context.Background(), failure.RetryPolicy{Extra: 2}, func(context.Context, int) error {
		calls++
		return services.Wrap(services.ErrValidation, "", "", "bad request", nil)
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected single failing call, got %d calls err=%v", calls, err)
	}
}

func TestRetryContentPolicyExhausts(t *testing.T) {
	calls := 0
	attempts, err := failure.RetryContentPolicy(context.Background(), failure.RetryPolicy{Extra: 2}, func(context.Context, int) error {
		calls++
		return services.Wrap(services.ErrContentPolicy, "", "", "refused", nil)
	})
	if !failure.IsContentPolicy(err) || attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 content-policy attempts, got attempts=%d calls=%d err=%v", attempts, calls, err)
	}
}
