package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient failure")

func transientOnly(err error) bool {
	return errors.Is(err, errTransient)
}

func newTestRetrier(maxAttempts int, options ...func(*Retrier)) Retrier {
	return NewRetrier(maxAttempts, time.Millisecond, 5*time.Millisecond, options...)
}

func TestRetrier_SucceedsFirstAttempt(t *testing.T) {
	var calls int
	err := newTestRetrier(3).Do(context.Background(), transientOnly, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 attempt, got %d", calls)
	}
}

func TestRetrier_RecoversFromTransientFailure(t *testing.T) {
	var calls int
	err := newTestRetrier(5).Do(context.Background(), transientOnly, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestRetrier_PermanentFailureIsImmediate(t *testing.T) {
	permanent := errors.New("constraint violation")

	var calls int
	err := newTestRetrier(5).Do(context.Background(), transientOnly, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 attempt for a permanent failure, got %d", calls)
	}

	var attemptsErr *AttemptsError
	if errors.As(err, &attemptsErr) {
		t.Error("Permanent failures must not be wrapped in AttemptsError")
	}
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := newTestRetrier(4).Do(context.Background(), transientOnly, func(context.Context) error {
		calls++
		return errTransient
	})
	if calls != 4 {
		t.Errorf("Expected exactly 4 attempts, got %d", calls)
	}

	var attemptsErr *AttemptsError
	if !errors.As(err, &attemptsErr) {
		t.Fatalf("Expected AttemptsError, got %v", err)
	}
	if attemptsErr.Attempts != 4 {
		t.Errorf("Expected 4 recorded attempts, got %d", attemptsErr.Attempts)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("Expected AttemptsError to wrap the last failure, got %v", err)
	}
}

func TestRetrier_NotifyReceivesAttemptNumbers(t *testing.T) {
	var attempts []int
	var lastErrs []error
	r := newTestRetrier(3, WithNotify(func(attempt int, lastErr error) {
		attempts = append(attempts, attempt)
		lastErrs = append(lastErrs, lastErr)
	}))

	_ = r.Do(context.Background(), transientOnly, func(context.Context) error {
		return errTransient
	})

	if len(attempts) != 3 {
		t.Fatalf("Expected 3 notifications, got %d", len(attempts))
	}
	for i, attempt := range attempts {
		if attempt != i+1 {
			t.Errorf("Notification %d: expected attempt %d, got %d", i, i+1, attempt)
		}
	}
	if lastErrs[0] != nil {
		t.Errorf("Expected nil last error on first attempt, got %v", lastErrs[0])
	}
	if !errors.Is(lastErrs[1], errTransient) {
		t.Errorf("Expected transient last error on second attempt, got %v", lastErrs[1])
	}
}

func TestRetrier_ContextCancellationAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRetrier(5, time.Hour, time.Hour)
	var calls int
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, transientOnly, func(context.Context) error {
			calls++
			return errTransient
		})
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Retrier did not abort the backoff sleep on cancellation")
	}
	if calls != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", calls)
	}
}

func TestRetrier_DelayGrowthAndCap(t *testing.T) {
	r := NewRetrier(6, 10*time.Millisecond, 40*time.Millisecond)

	expected := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond, // capped
		40 * time.Millisecond,
	}
	for i, want := range expected {
		if got := r.delay(i + 1); got != want {
			t.Errorf("Attempt %d: expected delay %s, got %s", i+1, want, got)
		}
	}
}

func TestRetrier_JitterStaysWithinSpread(t *testing.T) {
	r := NewRetrier(3, 100*time.Millisecond, time.Second, WithJitter(0.2))

	for i := 0; i < 100; i++ {
		d := r.delay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("Expected jittered delay within [80ms, 120ms], got %s", d)
		}
	}
}
