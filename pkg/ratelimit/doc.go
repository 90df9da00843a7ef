// Package ratelimit throttles calls to the remote record source.
//
// PerMinute backs the rate_limit.requests_per_minute option with a sliding
// window shared by every worker. Wait honours context cancellation, so a
// stopping campaign never stays parked on the limiter.
//
//	limiter := ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute)
//	r := retry.NewRetrier(retry.FromSettings(cfg.Retry, log, limiter))
package ratelimit
