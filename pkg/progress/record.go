// Package progress defines the durable per-unit progress records that make a
// reprocessing campaign resumable, and the store contracts that hold them.
package progress

import (
	"context"
	"time"
)

// Record is the checkpoint of one work unit. UnitID is the unique key.
type Record struct {
	UnitID            string     `json:"unit_id" bson:"_id"`
	OrderedIndex      int        `json:"ordered_index" bson:"ordered_index"`
	TotalItems        int64      `json:"total_items" bson:"total_items"`
	TotalProcessed    int64      `json:"total_processed" bson:"total_processed"`
	TotalFailed       int64      `json:"total_failed" bson:"total_failed"`
	StartedAt         time.Time  `json:"started_at" bson:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	ProcessingSeconds float64    `json:"processing_seconds" bson:"processing_seconds"`
	DownstreamSeconds float64    `json:"downstream_seconds" bson:"downstream_seconds"`
}

// NewRecord returns a fresh record for a unit seen for the first time.
func NewRecord(unitID string, orderedIndex int, totalItems int64, now time.Time) *Record {
	return &Record{
		UnitID:       unitID,
		OrderedIndex: orderedIndex,
		TotalItems:   totalItems,
		StartedAt:    now,
	}
}

// Done reports whether every known item has been consumed.
func (r *Record) Done() bool {
	return r.TotalProcessed >= r.TotalItems
}

// Completed reports whether the record carries a completion timestamp.
func (r *Record) Completed() bool {
	return r.CompletedAt != nil
}

// AvgProcessingSeconds is the mean processing time per consumed item.
func (r *Record) AvgProcessingSeconds() float64 {
	if r.TotalProcessed == 0 {
		return 0
	}
	return r.ProcessingSeconds / float64(r.TotalProcessed)
}

// AvgDownstreamSeconds is the mean downstream write time per consumed item.
func (r *Record) AvgDownstreamSeconds() float64 {
	if r.TotalProcessed == 0 {
		return 0
	}
	return r.DownstreamSeconds / float64(r.TotalProcessed)
}

// Clone returns a deep copy so stores never share memory with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Store persists Records. Failures must wrap errors.ErrStoreUnavailable.
type Store interface {
	// Get returns (nil, nil) when the unit has no record yet.
	Get(ctx context.Context, unitID string) (*Record, error)
	// Upsert replaces the record keyed by rec.UnitID.
	Upsert(ctx context.Context, rec *Record) error
	// ListUnitsOrdered returns every known UnitID in lexical order.
	ListUnitsOrdered(ctx context.Context) ([]string, error)
}

// FileProgress tracks how far a file of resource links has been consumed.
// LineReached counts consumed lines, so it is also the 0-based index of the
// next line to process.
type FileProgress struct {
	FileName         string    `json:"file_name" bson:"_id"`
	LineReached      int64     `json:"line_reached" bson:"line_reached"`
	EndOfFileReached bool      `json:"end_of_file_reached" bson:"end_of_file_reached"`
	TotalFailed      int64     `json:"total_failed" bson:"total_failed"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// Clone returns a copy of fp.
func (fp *FileProgress) Clone() *FileProgress {
	if fp == nil {
		return nil
	}
	c := *fp
	return &c
}

// FileStore persists FileProgress records keyed by file name.
type FileStore interface {
	// GetFile returns (nil, nil) when the file has no record yet.
	GetFile(ctx context.Context, name string) (*FileProgress, error)
	UpsertFile(ctx context.Context, fp *FileProgress) error
}
