// Package retry implements exponential backoff with jitter around a
// retryable predicate, reusing cenkalti/backoff — the backoff family the
// pack's go-claw repo depends on for its own retry/provider-call logic —
// instead of hand-rolling exponential delay math.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures a retry loop: an attempt cap plus the exponential
// backoff curve's delay parameters. The delay after failed attempt n
// (1-indexed) is min(InitialDelay * BackoffMultiplier^(n-1), MaxDelay); with
// Jitter, the final delay is drawn uniformly from [delay/2, 3*delay/2].
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
	// Retryable decides whether err should trigger another attempt. A nil
	// Retryable retries every non-nil error.
	Retryable func(err error) bool
}

// DefaultPolicy mirrors the pack's common retry defaults: three attempts,
// starting at 500ms, doubling up to a 30s cap, with jitter, retrying any
// error.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		Retryable:         func(err error) bool { return true },
	}
}

// backOff builds the cenkalti/backoff curve this policy describes, wrapped
// in WithMaxRetries so the attempt cap — not elapsed time — bounds the
// retry loop.
func (p Policy) backOff() backoff.BackOff {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultPolicy().MaxAttempts
	}
	initialDelay := p.InitialDelay
	if initialDelay <= 0 {
		initialDelay = DefaultPolicy().InitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultPolicy().MaxDelay
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = DefaultPolicy().BackoffMultiplier
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initialDelay
	eb.MaxInterval = maxDelay
	eb.Multiplier = multiplier
	eb.MaxElapsedTime = 0
	eb.RandomizationFactor = 0
	if p.Jitter {
		eb.RandomizationFactor = 0.5
	}

	return backoff.WithMaxRetries(eb, uint64(maxAttempts-1))
}

// Do runs fn, retrying per p until it succeeds, ctx is cancelled, the
// attempt cap is reached, or Retryable rejects an error as non-retryable.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	boff := backoff.WithContext(p.backOff(), ctx)
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	operation := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, boff); err != nil {
		return fmt.Errorf("retry: exhausted: %w", err)
	}
	return nil
}
