package retry

import (
	"context"
	"fmt"
	"time"

	"reprocessor/pkg/config"
	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
	"reprocessor/pkg/ratelimit"
)

// Operation is a remote call that might need retrying. It must be a read or
// an upsert-by-key write so that repeating it is harmless.
type Operation func(ctx context.Context) error

// Config controls a Retrier. MaxAttempts counts the first call, and 0 means
// no bound.
type Config struct {
	MaxAttempts int
	Backoff     BackoffStrategy
	// RetryIf reports whether err is worth another attempt.
	RetryIf func(error) bool
	// OnRetry, when set, sees every failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
	// Limiter, when set, is waited on before every attempt.
	Limiter ratelimit.Limiter
}

// errorAwareBackoff is implemented by strategies that vary by error type.
type errorAwareBackoff interface {
	DelayFor(attempt int, err error) time.Duration
}

// DefaultConfig allows five attempts with DefaultExponentialBackoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     errs.IsTransient,
	}
}

// FromSettings builds a Config from the retry section of the configuration.
// Rate limited calls wait ten times longer than other transient failures.
func FromSettings(rc config.RetryConfig, log logger.Logger, limiter ratelimit.Limiter) Config {
	base := &ExponentialBackoff{
		BaseDelay:    rc.BaseDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		JitterFactor: rc.Jitter,
	}
	return Config{
		MaxAttempts: rc.MaxAttempts,
		Backoff: &ByErrorType{
			Strategies: map[errs.ErrorType]BackoffStrategy{errs.ErrorTypeRateLimit: throttled(base)},
			Fallback:   base,
		},
		RetryIf: errs.IsTransient,
		Logger:  log,
		Limiter: limiter,
	}
}

// Retrier runs operations under one Config. It is safe for concurrent use.
type Retrier struct {
	config Config
}

// NewRetrier creates a new retrier with the given configuration. Missing
// fields take their defaults.
func NewRetrier(cfg Config) *Retrier {
	def := DefaultConfig()
	if cfg.Backoff == nil {
		cfg.Backoff = def.Backoff
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = def.RetryIf
	}
	cfg.Logger = logger.OrNop(cfg.Logger)
	return &Retrier{config: cfg}
}

// Do runs op until it succeeds, fails with a non-transient error, runs out
// of attempts, or ctx ends.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	cfg := r.config

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cfg.Limiter != nil {
			if err := cfg.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		if !cfg.RetryIf(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			cfg.Logger.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": err.Error(),
			})
			return fmt.Errorf("%w after %d attempts: %w", errs.ErrRetriesExhausted, attempt, err)
		}

		delay := r.delay(attempt, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

func (r *Retrier) delay(attempt int, err error) time.Duration {
	if ea, ok := r.config.Backoff.(errorAwareBackoff); ok {
		return ea.DelayFor(attempt, err)
	}
	return r.config.Backoff.NextDelay(attempt)
}

// Execute runs op through r and returns its result.
func Execute[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
