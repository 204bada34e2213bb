package failure

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds automatic resubmission of content-policy rejections.
// Extra is the number of attempts beyond the first.
type RetryPolicy struct {
	Extra int
	Delay time.Duration
	Sleep func(context.Context, time.Duration) error
}

// RetryContentPolicy calls fn until it succeeds, fails with anything other
// than a content-policy rejection, or the extra attempts are spent. It
// returns the number of attempts made.
func RetryContentPolicy(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) (int, error) {
	if ctx == nil {
		return 0, errors.New("content policy retry: nil context")
	}
	extra := max(policy.Extra, 0)
	var err error
	for attempt := 1; attempt <= extra+1; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if Classify(err) != KindContentPolicy || attempt == extra+1 {
			return attempt, err
		}
		if sleepErr := policy.sleep(ctx, policy.Delay); sleepErr != nil {
			return attempt, sleepErr
		}
	}
	return extra + 1, err
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
