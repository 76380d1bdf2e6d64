package service

import (
	"context"
	"errors"
	"time"

	"github.com/bahaybooking/ledger/internal/domain"
)

// RetryPolicy bounds how hard the engine pushes against optimistic-concurrency
// conflicts before surfacing them. Only domain.ErrTransactionConflict is
// retried; every other error propagates immediately.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetry is the engine-wide default: three attempts with exponential
// backoff starting at 25ms.
var DefaultRetry = RetryPolicy{Attempts: 3, BaseDelay: 25 * time.Millisecond}

// Do runs fn, retrying transaction conflicts with exponential backoff. After
// the budget is spent the conflict propagates; the operation fails visibly
// rather than degrading consistency.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	return p.retry(ctx, fn, func(err error) bool {
		return errors.Is(err, domain.ErrTransactionConflict)
	})
}

// DoConverging additionally retries insufficient-funds failures. Only for
// closures that recompute their amounts from balances re-read on each
// attempt: a failure caused by a stale read then converges on the next pass
// instead of repeating.
func (p RetryPolicy) DoConverging(ctx context.Context, fn func() error) error {
	return p.retry(ctx, fn, func(err error) bool {
		return errors.Is(err, domain.ErrTransactionConflict) ||
			errors.Is(err, domain.ErrInsufficientFunds)
	})
}

func (p RetryPolicy) retry(ctx context.Context, fn func() error, retryable func(error) bool) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		conflictRetries.Inc()
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
