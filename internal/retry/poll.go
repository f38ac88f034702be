package retry

import (
	"context"
	"errors"
	"time"
)

// DefaultPollInterval is the fixed delay between two Poll checks.
const DefaultPollInterval = 100 * time.Millisecond

// ErrInvalidInterval is returned by Poll for a non-positive interval.
var ErrInvalidInterval = errors.New("poll interval must be positive")

// ConditionFunc reports whether the awaited value is there yet.
// A non-nil error stops polling.
type ConditionFunc func(context.Context) (bool, error)

// Poll waits interval, evaluates cond, and repeats until cond reports done,
// cond fails, or ctx ends. The first check happens after one full interval
// and the delay restarts after every check, so a slow cond never shortens it.
// There is no attempt limit: bound it through ctx.
func Poll(ctx context.Context, interval time.Duration, cond ConditionFunc) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	for {
		if err := wait(ctx, interval); err != nil {
			return err
		}
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
