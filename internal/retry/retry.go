package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Options configures exponential backoff for retries.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Default backoff settings used when opts are zero/invalid.
var Default = Options{
	MaxAttempts:  5,
	InitialDelay: 300 * time.Millisecond,
	MaxDelay:     8 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

type IsRetryableFunc func(error) bool

// normalize fills zero fields from Default so partially set options stay usable.
func (o Options) normalize() Options {
	if o.MaxAttempts <= 0 {
		return Default
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = Default.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = Default.MaxDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = Default.Multiplier
	}
	return o
}

// Do executes fn with retries and exponential backoff until it succeeds,
// context is done, or attempts are exhausted. Returns the last error.
func Do(ctx context.Context, opts Options, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	opts = opts.normalize()
	backoff := opts.InitialDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return err
		}

		if werr := wait(ctx, jittered(backoff, opts, rng)); werr != nil {
			return werr
		}

		// Next backoff with overflow guard and cap.
		next := time.Duration(float64(backoff) * opts.Multiplier)
		if next < backoff {
			next = backoff
		}
		backoff = min(next, opts.MaxDelay)
	}
}

// jittered applies +/-20% jitter when enabled and caps at MaxDelay.
func jittered(d time.Duration, opts Options, rng *rand.Rand) time.Duration {
	sleep := d
	if opts.Jitter {
		delta := float64(d) * 0.2
		j := (rng.Float64()*2 - 1) * delta
		sleep = time.Duration(math.Max(0, float64(d)+j))
	}
	return min(sleep, opts.MaxDelay)
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
