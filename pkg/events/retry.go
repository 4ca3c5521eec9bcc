package events

import (
	"context"
	"time"
)

// Forever is the MaxRetries value of a policy that never gives up.
const Forever = -1

// RetryPolicy decides whether a failed operation is tried again and after how
// long. attempt counts failures so far, starting at 1.
type RetryPolicy interface {
	Next(attempt int, err error) (delay time.Duration, retry bool)
}

// ConstantBackoff retries after the same Delay every time, up to MaxRetries
// retries (Forever for no limit).
type ConstantBackoff struct {
	Delay      time.Duration
	MaxRetries int
}

func (b ConstantBackoff) Next(attempt int, _ error) (time.Duration, bool) {
	if b.MaxRetries != Forever && attempt > b.MaxRetries {
		return 0, false
	}
	return b.Delay, true
}

// RetryPolicyFunc adapts a function to RetryPolicy.
type RetryPolicyFunc func(attempt int, err error) (time.Duration, bool)

func (f RetryPolicyFunc) Next(attempt int, err error) (time.Duration, bool) {
	return f(attempt, err)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
