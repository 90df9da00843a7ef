// Package source describes where work items come from: a remote store paged
// by a stable identity order, or local files of resource links.
package source

import (
	"context"
	"encoding/json"
	"fmt"

	"reprocessor/pkg/retry"
)

// Item is one record handed to a processor.
type Item struct {
	ID string `json:"id"`
	// URL is the resource the record points at, when it has one.
	URL string `json:"url,omitempty"`
	// Payload is the raw record body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Source pages the items of a unit in a stable order. An empty page means
// the unit is exhausted.
type Source interface {
	Count(ctx context.Context, unitID string) (int64, error)
	FetchPage(ctx context.Context, unitID string, skip, limit int) ([]Item, error)
}

// UnitLister enumerates units in lexical order.
type UnitLister interface {
	ListUnits(ctx context.Context) ([]string, error)
}

// Retrying decorates a Source so every call goes through a Retrier.
type Retrying struct {
	inner   Source
	retrier *retry.Retrier
}

// NewRetrying wraps src with r.
func NewRetrying(src Source, r *retry.Retrier) *Retrying {
	return &Retrying{inner: src, retrier: r}
}

func (s *Retrying) Count(ctx context.Context, unitID string) (int64, error) {
	return retry.Execute(ctx, s.retrier, func(ctx context.Context) (int64, error) {
		return s.inner.Count(ctx, unitID)
	})
}

func (s *Retrying) FetchPage(ctx context.Context, unitID string, skip, limit int) ([]Item, error) {
	return retry.Execute(ctx, s.retrier, func(ctx context.Context) ([]Item, error) {
		return s.inner.FetchPage(ctx, unitID, skip, limit)
	})
}

// ListUnits retries the inner lister. It fails when the inner source cannot
// enumerate its units.
func (s *Retrying) ListUnits(ctx context.Context) ([]string, error) {
	lister, ok := s.inner.(UnitLister)
	if !ok {
		return nil, fmt.Errorf("source %T cannot list units", s.inner)
	}
	return retry.Execute(ctx, s.retrier, func(ctx context.Context) ([]string, error) {
		return lister.ListUnits(ctx)
	})
}
