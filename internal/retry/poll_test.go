package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoll_WaitsOneIntervalBeforeFirstCheck(t *testing.T) {
	interval := 20 * time.Millisecond
	start := time.Now()
	var first time.Duration
	err := Poll(context.Background(), interval, func(context.Context) (bool, error) {
		first = time.Since(start)
		return true, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if first < interval {
		t.Fatalf("first check after %v, want >= %v", first, interval)
	}
}

func TestPoll_ChecksAreSpacedByInterval(t *testing.T) {
	interval := 15 * time.Millisecond
	var stamps []time.Time
	err := Poll(context.Background(), interval, func(context.Context) (bool, error) {
		stamps = append(stamps, time.Now())
		return len(stamps) == 4, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, interval)
		}
	}
}

func TestPoll_StopsOnConditionError(t *testing.T) {
	boom := errors.New("boom")
	err := Poll(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
}

func TestPoll_BoundedByContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	checks := 0
	err := Poll(ctx, 5*time.Millisecond, func(context.Context) (bool, error) {
		checks++
		return false, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if checks == 0 {
		t.Fatalf("expected at least one check before the deadline")
	}
}

func TestPoll_RejectsNonPositiveInterval(t *testing.T) {
	err := Poll(context.Background(), 0, func(context.Context) (bool, error) { return true, nil })
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("want ErrInvalidInterval, got %v", err)
	}
}
