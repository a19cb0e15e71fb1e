package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/cenkalti/backoff/v5"
	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("metal-ledger")

// RetryPolicy bounds concurrency-conflict retries at the allocation and settlement boundary.
type RetryPolicy struct {
	MaxTries uint
	// NewBackOff builds a fresh schedule per call.
	NewBackOff func() backoff.BackOff
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries: config.AllocationMaxRetries(),
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 250 * time.Millisecond
			return b
		},
	}
}

// withConflictRetry reruns op while it fails with ErrConcurrencyConflict.
// Any other error stops immediately. Exhaustion surfaces as ErrTransientFailure.
func withConflictRetry[T any](ctx context.Context, policy RetryPolicy, logger *logrus.Logger, name string, op func() (T, error)) (T, error) {
	if policy.MaxTries == 0 {
		policy.MaxTries = 1
	}
	newBackOff := policy.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}

	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op()
		if err != nil && !errors.Is(err, models.ErrConcurrencyConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(policy.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":   name,
					"attempt": attempts,
					"next":    next.String(),
				}).Warn("retrying after concurrency conflict: " + err.Error())
			}
		}),
	)
	if err == nil {
		return res, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if errors.Is(err, models.ErrConcurrencyConflict) {
		return res, fmt.Errorf("%w after %d attempts: %w", models.ErrTransientFailure, attempts, err)
	}
	return res, err
}

// obtainBestEffort takes a short-lived Redis lock in front of the DB row locks.
// The row locks are authoritative, so a missing client or a busy lock only costs contention.
func obtainBestEffort(ctx context.Context, locker *redislock.Client, logger *logrus.Logger, key string) func() {
	if locker == nil {
		return func() {}
	}
	obtainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	lock, err := locker.Obtain(obtainCtx, key, 10*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), 40),
	})
	if err != nil {
		if logger != nil && !errors.Is(err, redislock.ErrNotObtained) {
			logger.WithFields(logrus.Fields{
				"field": "obtainBestEffort",
				"key":   key,
			}).Warn("redis lock unavailable, relying on row locks: " + err.Error())
		}
		return func() {}
	}
	return func() {
		_ = lock.Release(context.Background())
	}
}
