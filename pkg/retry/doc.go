// Package retry wraps remote calls with bounded retries and backoff.
//
// A Retrier repeats an Operation while it fails with a transient error
// (dropped connections, timeouts, 5xx and 429 responses, a busy SQLite
// database). Any other error propagates on the first attempt, and a
// cancelled context is never retried. When attempts run out the last error is
// returned wrapped in errors.ErrRetriesExhausted.
//
// Operations must be idempotent: reads, or writes that upsert by key.
//
//	r := retry.NewRetrier(retry.FromSettings(cfg.Retry, log, limiter))
//	count, err := retry.Execute(ctx, r, func(ctx context.Context) (int64, error) {
//		return src.Count(ctx, unitID)
//	})
//
// FromSettings uses ExponentialBackoff with jitter, stretched tenfold for rate
// limit responses through ByErrorType.
package retry
