package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how AtomicUpdate retries after write conflicts.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64 `validate:"gte=0"`

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration `validate:"gte=0"`

	// MaxInterval caps a single backoff delay.
	MaxInterval time.Duration `validate:"gte=0"`

	// MaxElapsed caps the total time spent retrying. 0 means no cap.
	MaxElapsed time.Duration `validate:"gte=0"`

	// RandomizationFactor jitters each delay by +/- the factor.
	RandomizationFactor float64 `validate:"gte=0,lte=1"`

	// OnRetry, if set, is called before each retry with the conflict error.
	OnRetry func(err error, delay time.Duration)
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:          100,
	InitialInterval:     time.Millisecond,
	MaxInterval:         50 * time.Millisecond,
	MaxElapsed:          10 * time.Second,
	RandomizationFactor: 0.5,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = p.MaxElapsed
	eb.RandomizationFactor = p.RandomizationFactor
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Millisecond
	}
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// AtomicUpdate reads key, applies fn and writes the result in a dedicated
// update transaction, retrying the whole closure on ErrConflict. It returns
// the value that was committed.
//
// Conflicts are never surfaced directly: once the policy is exhausted the
// returned error wraps both ErrRetryExhausted and the last ErrConflict.
// Errors returned by fn abort immediately without retry.
func AtomicUpdate(ctx context.Context, b Backend, policy RetryPolicy, group Group, key []byte, fn UpdateFunc) ([]byte, error) {
	var result []byte

	op := func() error {
		value, err := tryUpdate(ctx, b, group, key, fn)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = value
		return nil
	}

	notify := func(err error, delay time.Duration) {
		if policy.OnRetry != nil {
			policy.OnRetry(err, delay)
		}
	}

	if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %s/%x: %w", ErrRetryExhausted, group, key, err)
		}
		return nil, err
	}

	return result, nil
}

func tryUpdate(ctx context.Context, b Backend, group Group, key []byte, fn UpdateFunc) ([]byte, error) {
	txn, err := b.Begin(ctx, true)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	old, err := txn.Get(group, key)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	value, err := fn(old)
	if err != nil {
		return nil, err
	}

	if err := txn.Put(group, key, value); err != nil {
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}

	return value, nil
}
