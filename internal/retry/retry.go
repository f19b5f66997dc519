// Package retry classifies failures from external calls and retries them
// according to a Policy shared by every fetcher.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class is the retry-relevant category of a failure
type Class int

const (
	Transient Class = iota
	RateLimited
	NotFound
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Error is a classified failure of a single operation
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a class. A nil err yields nil.
func New(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the class carried by err, defaulting to Transient for
// unclassified failures.
func ClassOf(err error) Class {
	var re *Error
	if errors.As(err, &re) {
		return re.Class
	}
	return Transient
}

// Policy describes how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 are treated as 1.
	MaxAttempts int
	// Backoff returns the delay after the given failed attempt (1-based).
	Backoff func(attempt int, class Class) time.Duration
	// Retryable reports whether a failure of this class may be retried.
	// Nil retries everything except Fatal and NotFound.
	Retryable func(Class) bool
	// Sleep waits for d. Nil uses a timer bound to ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. attempt is 0-based. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		class := ClassOf(err)
		if !p.retryable(class) || attempt == attempts-1 {
			break
		}

		if p.Backoff != nil {
			if d := p.Backoff(attempt+1, class); d > 0 {
				if sleepErr := p.sleep(ctx, d); sleepErr != nil {
					return errors.Join(lastErr, sleepErr)
				}
			}
		}
	}

	return lastErr
}

func (p Policy) retryable(c Class) bool {
	if p.Retryable != nil {
		return p.Retryable(c)
	}
	return c != Fatal && c != NotFound
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule returns a Backoff that uses delays in order, repeating the last one.
func Schedule(delays ...time.Duration) func(int, Class) time.Duration {
	return func(attempt int, _ Class) time.Duration {
		if len(delays) == 0 {
			return 0
		}
		idx := min(attempt-1, len(delays)-1)
		return delays[max(idx, 0)]
	}
}

// ByClass returns a Backoff with a fixed delay for rate-limited failures and
// another for everything else.
func ByClass(rateLimited, other time.Duration) func(int, Class) time.Duration {
	return func(_ int, c Class) time.Duration {
		if c == RateLimited {
			return rateLimited
		}
		return other
	}
}

// Only returns a Retryable predicate admitting the given classes.
func Only(classes ...Class) func(Class) bool {
	return func(c Class) bool {
		for _, allowed := range classes {
			if c == allowed {
				return true
			}
		}
		return false
	}
}
