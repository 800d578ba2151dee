// Package retry is a bounded retry combinator over cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxRetries uint64
	NewBackOff func() backoff.BackOff
	// Notify, when set, is called before each wait.
	Notify func(err error, wait time.Duration)
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step    time.Duration
	attempt int64
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// Linear retries up to maxRetries times, waiting step multiplied by the attempt number.
func Linear(step time.Duration, maxRetries uint64) Policy {
	return Policy{
		MaxRetries: maxRetries,
		NewBackOff: func() backoff.BackOff { return &linearBackOff{step: step} },
	}
}

// Exponential retries up to maxRetries times with jittered exponential waits.
func Exponential(initial, maxInterval time.Duration, maxRetries uint64) Policy {
	return Policy{
		MaxRetries: maxRetries,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Permanent wraps err so Do stops immediately and returns it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, returns a permanent error, exhausts the policy or
// ctx is done. op receives the zero-based attempt number. The last error is returned.
func Do(ctx context.Context, p Policy, op func(attempt int) error) error {
	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), p.MaxRetries), ctx)

	attempt := 0
	operation := func() error {
		err := op(attempt)
		attempt++
		return err
	}

	var notify backoff.Notify
	if p.Notify != nil {
		notify = p.Notify
	}
	return backoff.RetryNotify(operation, b, notify)
}
