package engine

import (
	"context"
	"fmt"

	"reprocessor/pkg/progress"
	"reprocessor/pkg/source"
)

// PageRequest addresses one page of a unit. It is derived from the number
// of items consumed and never stored.
type PageRequest struct {
	UnitID    string
	PageIndex int64
	PageSize  int
	// Offset is the number of items already consumed. It equals
	// PageIndex*PageSize unless the previous page came back short.
	Offset int64
}

// Cursor turns checkpointed progress into the next page fetch.
type Cursor struct {
	src      source.Source
	pageSize int
}

// NewCursor pages src in pages of pageSize items.
func NewCursor(src source.Source, pageSize int) *Cursor {
	return &Cursor{src: src, pageSize: pageSize}
}

// PageSize returns the configured page size.
func (c *Cursor) PageSize() int {
	return c.pageSize
}

// Request derives the page that follows consumed items.
func (c *Cursor) Request(unitID string, consumed int64) PageRequest {
	return PageRequest{
		UnitID:    unitID,
		PageIndex: consumed / int64(c.pageSize),
		PageSize:  c.pageSize,
		Offset:    consumed,
	}
}

// NextPage fetches the page after rec.TotalProcessed. An empty slice means
// the unit is exhausted.
func (c *Cursor) NextPage(ctx context.Context, rec *progress.Record) ([]source.Item, PageRequest, error) {
	return c.next(ctx, rec.UnitID, rec.TotalProcessed)
}

func (c *Cursor) next(ctx context.Context, unitID string, consumed int64) ([]source.Item, PageRequest, error) {
	req := c.Request(unitID, consumed)
	items, err := c.src.FetchPage(ctx, unitID, int(req.Offset), req.PageSize)
	if err != nil {
		return nil, req, fmt.Errorf("fetch page %d of %s: %w", req.PageIndex, unitID, err)
	}
	if len(items) > req.PageSize {
		items = items[:req.PageSize]
	}
	return items, req, nil
}
