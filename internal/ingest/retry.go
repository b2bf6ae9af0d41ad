package ingest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Classifier reports whether an error is transient and worth retrying.
// Permanent failures are surfaced immediately without further attempts.
type Classifier func(error) bool

// AttemptsError reports a terminal failure after exhausting all retry
// attempts, so callers can distinguish it from a first-attempt failure and
// log the attempt count.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %s", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// WithJitter sets the random backoff spread as a fraction of the delay,
// in [0, 1]. A jitter of 0.2 spreads each delay by up to ±20%.
func WithJitter(jitter float64) func(*Retrier) {
	return func(r *Retrier) {
		r.jitter = jitter
	}
}

// WithNotify sets a callback invoked before every attempt with the attempt
// number (1-based) and the error of the previous attempt, nil on the first.
func WithNotify(notify func(attempt int, lastErr error)) func(*Retrier) {
	return func(r *Retrier) {
		r.notify = notify
	}
}

// Retrier re-invokes fallible operations with capped exponential backoff.
// It carries no state across calls: concurrent Do calls on the same Retrier
// never share backoff progress.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      float64
	notify      func(attempt int, lastErr error)
}

// NewRetrier creates a Retrier performing at most maxAttempts attempts with
// delays of baseDelay doubling per attempt, capped at maxDelay.
func NewRetrier(maxAttempts int, baseDelay, maxDelay time.Duration, options ...func(*Retrier)) Retrier {
	r := Retrier{
		maxAttempts: max(maxAttempts, 1),
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}

	for _, option := range options {
		option(&r)
	}

	return r
}

// Do invokes op until it succeeds, fails permanently, the context is
// cancelled or the attempt budget is exhausted. classify decides whether a
// failure is transient; permanent failures are returned as-is after the
// first occurrence. Exhaustion is reported as an AttemptsError wrapping the
// last transient failure. The backoff sleep holds no locks and aborts
// promptly on context cancellation.
func (r Retrier) Do(ctx context.Context, classify Classifier, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if r.notify != nil {
			r.notify(attempt, lastErr)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !classify(err) {
			return err
		}
		lastErr = err

		if attempt == r.maxAttempts {
			break
		}

		select {
		case <-time.After(r.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &AttemptsError{Attempts: r.maxAttempts, Err: lastErr}
}

// delay computes the backoff before the given attempt's successor:
// baseDelay doubled per completed attempt, capped, then jittered.
func (r Retrier) delay(attempt int) time.Duration {
	delay := r.baseDelay << (attempt - 1)
	if r.maxDelay > 0 && delay > r.maxDelay {
		delay = r.maxDelay
	}
	if r.jitter > 0 {
		spread := (rand.Float64()*2 - 1) * r.jitter // in [-jitter, +jitter]
		delay = time.Duration(float64(delay) * (1 + spread))
	}
	return delay
}
