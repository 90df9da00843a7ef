package progress

import (
	"context"

	"reprocessor/pkg/retry"
)

// Retrying decorates a Store and FileStore so every call goes through a
// Retrier. Upserts are keyed, so repeating one is harmless.
type Retrying struct {
	records Store
	files   FileStore
	retrier *retry.Retrier
}

// NewRetrying wraps records and files with r. Either may be nil when the backend
// only serves one kind of progress.
func NewRetrying(records Store, files FileStore, r *retry.Retrier) *Retrying {
	return &Retrying{records: records, files: files, retrier: r}
}

func (s *Retrying) Get(ctx context.Context, unitID string) (*Record, error) {
	return retry.Execute(ctx, s.retrier, func(ctx context.Context) (*Record, error) {
		return s.records.Get(ctx, unitID)
	})
}

func (s *Retrying) Upsert(ctx context.Context, rec *Record) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.records.Upsert(ctx, rec)
	})
}

func (s *Retrying) ListUnitsOrdered(ctx context.Context) ([]string, error) {
	return retry.Execute(ctx, s.retrier, func(ctx context.Context) ([]string, error) {
		return s.records.ListUnitsOrdered(ctx)
	})
}

func (s *Retrying) GetFile(ctx context.Context, name string) (*FileProgress, error) {
	return retry.Execute(ctx, s.retrier, func(ctx context.Context) (*FileProgress, error) {
		return s.files.GetFile(ctx, name)
	})
}

func (s *Retrying) UpsertFile(ctx context.Context, fp *FileProgress) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.files.UpsertFile(ctx, fp)
	})
}
