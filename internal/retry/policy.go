package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is an explicit retry policy for calls to external services.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to each interval.
	Jitter float64
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// OnRetry observes each scheduled retry.
	OnRetry func(err error, wait time.Duration)
}

// DefaultPolicy retries transient failures three times with exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		Retryable:       func(err error) bool { return KindOf(err) == Transient },
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.Jitter >= 0 {
		b.RandomizationFactor = p.Jitter
	}
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// attempts, or ctx is done. The last error from op is returned.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || (p.Retryable != nil && !p.Retryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = p.OnRetry
	}
	if err := backoff.RetryNotify(operation, p.backOff(ctx), notify); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
