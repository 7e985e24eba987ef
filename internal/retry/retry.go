// Package retry runs unreliable external calls with bounded attempts and a
// linear backoff (base delay times the attempt number).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lingosub/pkg/logger"
)

// Policy bounds a retried call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// AttemptTimeout bounds each attempt; zero means no per-attempt limit.
	AttemptTimeout time.Duration
	// Sleep replaces the context-aware timer, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy builds a policy from configured attempts, base delay in
// milliseconds and per-attempt timeout in seconds.
func NewPolicy(maxAttempts, baseDelayMs, attemptTimeoutSec int) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      time.Duration(baseDelayMs) * time.Millisecond,
		AttemptTimeout: time.Duration(attemptTimeoutSec) * time.Second,
	}
}

// FatalError is returned once every attempt has failed or a permanent error
// stopped the loop early.
type FatalError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (bad credentials, 4xx responses,
// missing configuration).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the wait before the attempt following attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Do runs op until it succeeds, fails permanently, or MaxAttempts is reached.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			logger.Warnf("🔁 %s: attempt %d/%d failed (%v), retrying in %v", op, attempt-1, maxAttempts, lastErr, delay)
			if err := p.sleep(ctx, delay); err != nil {
				return zero, &FatalError{Op: op, Attempts: attempt - 1, Err: lastErr}
			}
		}

		result, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) || ctx.Err() != nil {
			return zero, &FatalError{Op: op, Attempts: attempt, Err: err}
		}
	}
	return zero, &FatalError{Op: op, Attempts: maxAttempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
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
