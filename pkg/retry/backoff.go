package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	errs "reprocessor/pkg/errors"
)

// rateLimitFactor stretches delays after a 429 compared with other
// transient failures.
const rateLimitFactor = 10

// BackoffStrategy yields the wait before retry number attempt (1-based).
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows BaseDelay by Multiplier per attempt up to MaxDelay
// and spreads each delay by ±JitterFactor. It holds no state, so one value is
// safe to share between workers.
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultExponentialBackoff waits 1s, 2s, 4s ... capped at one minute.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 {
		d = math.Min(d, float64(b.MaxDelay))
	}
	return spread(d, b.JitterFactor)
}

// spread moves d by a uniform amount in [-factor*d, +factor*d].
func spread(d, factor float64) time.Duration {
	if factor > 0 {
		d += d * factor * (2*rand.Float64() - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ConstantBackoff always waits Delay. Tests use it to keep retries fast.
type ConstantBackoff struct {
	Delay time.Duration
}

func (b *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return b.Delay
}

// ByErrorType picks a strategy from the type of the error that failed the
// attempt. Untyped errors and types without an entry use Fallback.
type ByErrorType struct {
	Strategies map[errs.ErrorType]BackoffStrategy
	Fallback   BackoffStrategy
}

// NextDelay is used when no error is at hand.
func (b *ByErrorType) NextDelay(attempt int) time.Duration {
	return b.Fallback.NextDelay(attempt)
}

// DelayFor returns the delay for attempt given the error that caused it.
func (b *ByErrorType) DelayFor(attempt int, err error) time.Duration {
	var typed *errs.Error
	if errors.As(err, &typed) {
		if s, ok := b.Strategies[typed.Type]; ok && s != nil {
			return s.NextDelay(attempt)
		}
	}
	return b.Fallback.NextDelay(attempt)
}

// throttled derives the strategy used after rate limit responses from base.
func throttled(base *ExponentialBackoff) *ExponentialBackoff {
	t := *base
	t.BaseDelay *= rateLimitFactor
	t.MaxDelay *= rateLimitFactor
	return &t
}

// Wait sleeps for delay or until ctx ends, whichever comes first.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
