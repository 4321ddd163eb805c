package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errConflict = errors.New("version conflict")

func TestDo_StopsOnSuccess(t *testing.T) {
	cases := []struct {
		name      string
		succeedOn int
		attempts  int
		wantCalls int
	}{
		{"first attempt", 1, 3, 1},
		{"after conflicts", 3, 5, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int
			err := Do(context.Background(), tc.attempts, 5*time.Millisecond, func() error {
				calls++
				if calls < tc.succeedOn {
					return errConflict
				}
				return nil
			})
			if err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			if calls != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, calls)
			}
		})
	}
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, 5*time.Millisecond, func() error {
		calls++
		return errConflict
	})
	if !errors.Is(err, errConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentShortCircuits(t *testing.T) {
	illegal := errors.New("illegal transition")
	var calls int
	err := Do(context.Background(), 5, 5*time.Millisecond, func() error {
		calls++
		return Permanent(illegal)
	})
	if !errors.Is(err, illegal) {
		t.Fatalf("expected the wrapped error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error must not retry, got %d calls", calls)
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errConflict
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c := calls.Load(); c > 3 {
		t.Fatalf("expected cancellation within a few attempts, got %d", c)
	}
}

func TestDo_NonPositiveAttemptsRunsOnce(t *testing.T) {
	var calls int
	if err := Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestDoWithUnlock_ReleasesLockWhileSleeping(t *testing.T) {
	var calls, unlocks, relocks int
	locked := true

	err := DoWithUnlock(context.Background(), 3, 5*time.Millisecond,
		func() { unlocks++; locked = false },
		func() { relocks++; locked = true },
		func() error {
			if !locked {
				t.Fatal("fn ran without the lock held")
			}
			calls++
			if calls < 3 {
				return errConflict
			}
			return nil
		})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if unlocks != 2 || relocks != 2 {
		t.Fatalf("expected 2 unlock/relock pairs, got %d/%d", unlocks, relocks)
	}
	if !locked {
		t.Fatal("lock must be held on return")
	}
}

func TestJittered_StaysWithinBand(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := jittered(base)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±25%% of %v", d, base)
		}
	}
}
