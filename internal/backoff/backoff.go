package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/shardmover"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt (default: 5).
	// A negative value disables retries.
	MaxRetries int

	// Interval is the initial delay, doubled after every attempt (default: 2s).
	Interval time.Duration

	// MaxInterval caps a single delay (default: 30s).
	MaxInterval time.Duration

	// Timeout bounds the whole loop when non-zero.
	Timeout time.Duration

	// RetryIf decides whether an error is retried (default: shardmover.IsRecoverable).
	RetryIf func(error) bool

	// Logger receives one debug line per retry (optional).
	Logger es.Logger
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries == 0 {
		p.MaxRetries = 5
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Interval == 0 {
		p.Interval = 2 * time.Second
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.RetryIf == nil {
		p.RetryIf = shardmover.IsRecoverable
	}
	return p
}

// Retry runs fn until it succeeds, returns an error RetryIf rejects, or the budget runs out.
// The error of the last attempt is returned.
func Retry(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(p.MaxRetries+1)),
		retry.Delay(p.Interval),
		retry.MaxDelay(p.MaxInterval),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(p.RetryIf),
		retry.OnRetry(func(n uint, err error) {
			if p.Logger != nil {
				p.Logger.Debug(ctx, "retrying", "op", op, "attempt", n+1, "error", err)
			}
		}),
	)
}

// ErrExhausted is returned by Poll when the condition never held within the budget.
var ErrExhausted = errors.New("poll budget exhausted")

var errPending = errors.New("condition not met")

// Poll evaluates cond until it reports true, with the same backoff as Retry.
// A false result counts as an attempt; errors accepted by RetryIf are retried too.
// Poll returns ErrExhausted when the budget or timeout runs out while cond stays false.
func Poll(ctx context.Context, p Policy, op string, cond func(ctx context.Context) (bool, error)) error {
	p = p.withDefaults()
	retryIf := p.RetryIf
	p.RetryIf = func(err error) bool {
		return errors.Is(err, errPending) || retryIf(err)
	}

	err := Retry(ctx, p, op, func(ctx context.Context) error {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errPending
		}
		return nil
	})
	if errors.Is(err, errPending) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return ErrExhausted
	}
	return err
}
