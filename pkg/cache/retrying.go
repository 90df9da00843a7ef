package cache

import (
	"context"

	"reprocessor/pkg/retry"
)

// Retrying decorates a Store so lookups and writes survive transient
// backend failures.
type Retrying struct {
	inner   Store
	retrier *retry.Retrier
}

// NewRetrying wraps store with r.
func NewRetrying(store Store, r *retry.Retrier) *Retrying {
	return &Retrying{inner: store, retrier: r}
}

func (s *Retrying) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	return retry.Execute(ctx, s.retrier, func(ctx context.Context) (*Entry, error) {
		return s.inner.Get(ctx, fingerprint)
	})
}

func (s *Retrying) Exists(ctx context.Context, fingerprint string) (bool, error) {
	return retry.Execute(ctx, s.retrier, func(ctx context.Context) (bool, error) {
		return s.inner.Exists(ctx, fingerprint)
	})
}

func (s *Retrying) Put(ctx context.Context, e *Entry) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.inner.Put(ctx, e)
	})
}
